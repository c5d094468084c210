package dump

import (
	"bytes"
	"context"
	dbsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/db"
)

func setupTestEngine(t *testing.T) *db.Engine {
	t.Helper()
	engine := db.NewEngine(core.NewRegistry())
	outcomes := engine.ExecuteScript(`
		CREATE DATABASE shop;
		USE shop;
		CREATE TABLE users (id INT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(40) UNIQUE, score FLOAT, active BOOL);
		INSERT INTO users VALUES (NULL, 'Alice', 1.5, true);
		INSERT INTO users VALUES (NULL, 'O''Brien', 2, false);
		INSERT INTO users VALUES (NULL, 'Carol', NULL, NULL);
		CREATE TABLE orders (user_id INT, sku TEXT, qty INT, PRIMARY KEY (user_id, sku));
		INSERT INTO orders VALUES (1, 'pen', 3);
		INSERT INTO orders VALUES (1, 'ink', 1);
	`)
	if failed := db.Errors(outcomes); len(failed) > 0 {
		t.Fatalf("Failed to set up test data: %v", failed)
	}
	return engine
}

func tableJSON(t *testing.T, registry *core.Registry, database string) string {
	t.Helper()
	data, err := json.Marshal(registry.Databases[database])
	if err != nil {
		t.Fatalf("Failed to marshal %s: %v", database, err)
	}
	return string(data)
}

func restoreTarget(t *testing.T) *db.Engine {
	t.Helper()
	engine := db.NewEngine(core.NewRegistry())
	if _, err := engine.Execute("CREATE DATABASE restored"); err != nil {
		t.Fatalf("Failed to create target database: %v", err)
	}
	return engine
}

func TestWriteSQL(t *testing.T) {
	engine := setupTestEngine(t)

	var buf bytes.Buffer
	if err := WriteSQL(&buf, engine.Registry, []string{"shop"}); err != nil {
		t.Fatalf("WriteSQL failed: %v", err)
	}
	script := buf.String()

	for _, expected := range []string{
		"CREATE DATABASE IF NOT EXISTS `shop`;",
		"USE `shop`;",
		"CREATE TABLE `users` (\n  `id` INT AUTO_INCREMENT,\n  `name` VARCHAR(40) UNIQUE,\n  `score` FLOAT,\n  `active` BOOL,\n  PRIMARY KEY (`id`)\n);",
		"INSERT INTO `users` VALUES (2, 'O''Brien', 2.0, false);",
		"INSERT INTO `users` VALUES (3, 'Carol', NULL, NULL);",
		"PRIMARY KEY (`user_id`, `sku`)",
	} {
		if !strings.Contains(script, expected) {
			t.Errorf("Expected script to contain %q\n%s", expected, script)
		}
	}
}

func TestSQLRoundTrip(t *testing.T) {
	source := setupTestEngine(t)

	var buf bytes.Buffer
	if err := WriteSQL(&buf, source.Registry, []string{"shop"}); err != nil {
		t.Fatalf("WriteSQL failed: %v", err)
	}

	target := restoreTarget(t)
	report, err := ImportSQL(target, "restored", &buf)
	if err != nil {
		t.Fatalf("ImportSQL failed: %v", err)
	}
	if len(report.Errors) > 0 {
		t.Fatalf("Unexpected import errors: %v", report.Errors)
	}
	if report.Tables != 2 || report.Succeeded != 7 {
		t.Errorf("Expected 2 tables and 7 statements, got %d and %d", report.Tables, report.Succeeded)
	}
	if report.String() != "Successfully imported 7 SQL commands into restored." {
		t.Errorf("Unexpected report message %q", report.String())
	}
	if _, ok := target.Registry.Databases["shop"]; ok {
		t.Errorf("Expected CREATE DATABASE statements to be skipped")
	}

	if got, expected := tableJSON(t, target.Registry, "restored"), tableJSON(t, source.Registry, "shop"); got != expected {
		t.Errorf("Round trip mismatch\nexpected %s\ngot      %s", expected, got)
	}
}

func TestImportSQLCollectsErrors(t *testing.T) {
	target := restoreTarget(t)

	script := `
		SET NAMES utf8;
		CREATE TABLE t (id INT PRIMARY KEY);
		INSERT INTO t VALUES (1);
		INSERT INTO t VALUES (1);
		INSERT INTO t VALUES ('x');
		INSERT INTO t VALUES (2);
	`
	report, err := ImportSQL(target, "restored", strings.NewReader(script))
	if err != nil {
		t.Fatalf("ImportSQL failed: %v", err)
	}
	if report.Succeeded != 3 || len(report.Errors) != 2 {
		t.Errorf("Expected 3 successes and 2 errors, got %d and %v", report.Succeeded, report.Errors)
	}
	if report.Message != "Imported with 2 errors. 3 commands succeeded." {
		t.Errorf("Unexpected message %q", report.Message)
	}

	if _, err := ImportSQL(target, "missing", strings.NewReader(script)); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound for a missing database, got %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	source := setupTestEngine(t)
	if _, err := source.Execute("DELETE FROM users WHERE id = 3"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, source.Registry, []string{"shop"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	// an export holds the source database name, so import it as a tables map
	var exported map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &exported); err != nil {
		t.Fatalf("Export is not valid JSON: %v", err)
	}

	target := restoreTarget(t)
	report, err := ImportJSON(target, "restored", bytes.NewReader(exported["shop"]))
	if err != nil {
		t.Fatalf("ImportJSON failed: %v", err)
	}
	if report.String() != "Successfully imported 2 tables with 4 records." {
		t.Errorf("Unexpected report %q (errors %v)", report.String(), report.Errors)
	}

	if got, expected := tableJSON(t, target.Registry, "restored"), tableJSON(t, source.Registry, "shop"); got != expected {
		t.Errorf("Round trip mismatch\nexpected %s\ngot      %s", expected, got)
	}

	if _, err := target.Execute("INSERT INTO users (name) VALUES ('Dave')"); err != nil {
		t.Fatalf("Insert after import failed: %v", err)
	}
	if counter := target.Registry.Databases["restored"].Tables["users"].AutoIncrement["id"]; counter != 4 {
		t.Errorf("Expected the restored counter to continue at 4, got %d", counter)
	}
}

func TestImportJSONDatabaseExport(t *testing.T) {
	target := restoreTarget(t)
	data := `{"restored": {"notes": {"columns": ["body"], "types": {"body": "TEXT"}, "rows": [{"body": "hello"}]}}}`

	report, err := ImportJSON(target, "restored", strings.NewReader(data))
	if err != nil {
		t.Fatalf("ImportJSON failed: %v", err)
	}
	if report.Tables != 1 || report.Succeeded != 1 {
		t.Errorf("Expected 1 table with 1 record, got %+v", report)
	}
}

func TestImportJSONTableObject(t *testing.T) {
	target := restoreTarget(t)
	data := `{
		"table": "people",
		"columns": [{"name": "id", "type": "INT", "constraints": ["PRIMARY KEY"]}, "name"],
		"records": [[1, "Ann"], {"id": 2, "name": "Ben"}, [1, "Dup"]]
	}`

	report, err := ImportJSON(target, "restored", strings.NewReader(data))
	if err != nil {
		t.Fatalf("ImportJSON failed: %v", err)
	}
	if report.Succeeded != 2 || len(report.Errors) != 1 {
		t.Errorf("Expected 2 records and 1 error, got %+v", report)
	}
	if report.Message != "Imported table people with 2/3 records. 1 errors." {
		t.Errorf("Unexpected message %q", report.Message)
	}

	result, err := target.Execute("SELECT name FROM people WHERE id = 2")
	if err != nil {
		t.Fatalf("SELECT failed: %v", err)
	}
	if data := result.(db.QueryResult).Data; !reflect.DeepEqual(data, [][]string{{"Ben"}}) {
		t.Errorf("Unexpected rows %v", data)
	}
}

func TestImportJSONRecordList(t *testing.T) {
	target := restoreTarget(t)
	data := `[{"city": "Oslo", "pop": 700000}, {"city": "Bergen", "pop": 285000}, "junk"]`

	report, err := ImportJSON(target, "restored", strings.NewReader(data))
	if err != nil {
		t.Fatalf("ImportJSON failed: %v", err)
	}
	if report.Succeeded != 2 || len(report.Errors) != 1 {
		t.Errorf("Expected 2 records and 1 error, got %+v", report)
	}

	tables := target.Registry.Databases["restored"].TableNames()
	if len(tables) != 1 || !strings.HasPrefix(tables[0], "imported_table_") {
		t.Fatalf("Expected one imported table, got %v", tables)
	}
	table := target.Registry.Databases["restored"].Tables[tables[0]]
	if !reflect.DeepEqual(table.Columns, []string{"city", "pop"}) {
		t.Errorf("Unexpected columns %v", table.Columns)
	}
}

func TestImportJSONRejectsUnknownShapes(t *testing.T) {
	target := restoreTarget(t)

	for _, data := range []string{`{"a": 1}`, `[]`, `42`} {
		_, err := ImportJSON(target, "restored", strings.NewReader(data))
		if core.KindOf(err) != core.InvalidCommand {
			t.Errorf("%s: expected InvalidCommand, got %v", data, err)
		}
	}

	if _, err := ImportJSON(target, "restored", strings.NewReader("{")); err == nil {
		t.Errorf("Expected an error for malformed JSON")
	}
}

func TestExportImportFiles(t *testing.T) {
	source := setupTestEngine(t)
	dir := t.TempDir()
	ctx := context.Background()

	for _, format := range []Format{FormatSQL, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(dir, "shop."+string(format))
			message, err := Export(ctx, source.Registry, format, "shop", path, nil)
			if err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			expected := fmt.Sprintf("Successfully exported to %s file: %s", strings.ToUpper(string(format)), path)
			if message != expected {
				t.Errorf("Expected %q, got %q", expected, message)
			}

			target := db.NewEngine(core.NewRegistry())
			if _, err := target.Execute("CREATE DATABASE shop"); err != nil {
				t.Fatalf("Failed to create database: %v", err)
			}
			report, err := Import(ctx, target, format, "shop", "file://"+path, nil)
			if err != nil {
				t.Fatalf("Import failed: %v", err)
			}
			if len(report.Errors) > 0 {
				t.Fatalf("Unexpected import errors: %v", report.Errors)
			}
			if got, expected := tableJSON(t, target.Registry, "shop"), tableJSON(t, source.Registry, "shop"); got != expected {
				t.Errorf("Round trip mismatch\nexpected %s\ngot      %s", expected, got)
			}
		})
	}

	if _, err := Export(ctx, source.Registry, FormatSQL, "missing", filepath.Join(dir, "x.sql"), nil); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound for a missing database, got %v", err)
	}
	if _, err := Import(ctx, source, FormatSQLite, "shop", filepath.Join(dir, "shop.sql"), nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestWriteSQLite(t *testing.T) {
	source := setupTestEngine(t)
	if _, err := source.Execute("CREATE DATABASE archive"); err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	path := filepath.Join(t.TempDir(), "all.sqlite")

	message, err := Export(context.Background(), source.Registry, FormatSQLite, "*", path, nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if message != "Successfully exported to SQLite file: "+path {
		t.Errorf("Unexpected message %q", message)
	}

	conn, err := dbsql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open SQLite file: %v", err)
	}
	defer conn.Close()

	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM "shop_users"`).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 rows, got %d", count)
	}

	var name string
	var score dbsql.NullFloat64
	if err := conn.QueryRow(`SELECT name, score FROM "shop_users" WHERE id = 2`).Scan(&name, &score); err != nil {
		t.Fatalf("Failed to read row: %v", err)
	}
	if name != "O'Brien" || !score.Valid || score.Float64 != 2 {
		t.Errorf("Unexpected row %q %v", name, score)
	}

	_, err = conn.Exec(`INSERT INTO "shop_orders" VALUES (1, 'pen', 9)`)
	if err == nil {
		t.Errorf("Expected the composite primary key to be kept")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
	}{
		{"sql", FormatSQL},
		{"JSON", FormatJSON},
		{" sqlite ", FormatSQLite},
		{"sqlite3", FormatSQLite},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if err != nil || got != tt.expected {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.input, got, err)
		}
	}

	if _, err := ParseFormat("csv"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if got := DefaultPath(FormatSQL, "", now); got != "all_databases_20260304_050607.sql" {
		t.Errorf("Unexpected path %q", got)
	}
	if got := DefaultPath(FormatJSON, "shop", now); got != "shop_20260304_050607.json" {
		t.Errorf("Unexpected path %q", got)
	}
}

func TestDetectScheme(t *testing.T) {
	tests := []struct {
		path     string
		expected urlScheme
	}{
		{"/tmp/x.sql", schemeLocal},
		{"x.sql", schemeLocal},
		{"file:///tmp/x.sql", schemeFile},
		{"HTTP://example.com/x", schemeHTTP},
		{"https://example.com/x", schemeHTTPS},
		{"s3://bucket/key", schemeS3},
	}
	for _, tt := range tests {
		if got := detectScheme(tt.path); got != tt.expected {
			t.Errorf("detectScheme(%q) = %q, expected %q", tt.path, got, tt.expected)
		}
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://backups/quail/shop.sql")
	if err != nil || bucket != "backups" || key != "quail/shop.sql" {
		t.Errorf("Unexpected parse result %q %q %v", bucket, key, err)
	}

	for _, url := range []string{"s3://bucket", "s3://bucket/", "s3:///key"} {
		if _, _, err := parseS3URL(url); err == nil {
			t.Errorf("Expected %q to be rejected", url)
		}
	}
}

func TestOpenReaderHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dump.sql" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "CREATE TABLE t (id INT);")
	}))
	defer server.Close()

	r, err := OpenReader(context.Background(), server.URL+"/dump.sql", nil)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	body, _ := io.ReadAll(r)
	r.Close()
	if string(body) != "CREATE TABLE t (id INT);" {
		t.Errorf("Unexpected body %q", body)
	}

	if _, err := OpenReader(context.Background(), server.URL+"/missing", nil); err == nil {
		t.Errorf("Expected an error for a 404 response")
	}

	if _, err := OpenWriter(context.Background(), server.URL+"/dump.sql", nil); !errors.Is(err, ErrReadOnlyLocation) {
		t.Errorf("Expected ErrReadOnlyLocation, got %v", err)
	}
}

func TestOpenWriterLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	w, err := OpenWriter(context.Background(), "file://"+path, nil)
	if err != nil {
		t.Fatalf("OpenWriter failed: %v", err)
	}
	io.WriteString(w, "hello")
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Errorf("Unexpected file content %q, %v", data, err)
	}
}
