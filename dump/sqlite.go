package dump

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/quailsql/QuailDB/core"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// WriteSQLite copies the databases into a SQLite file at path. Existing
// tables of the same name are replaced. With more than one database, tables
// are named <database>_<table>.
func WriteSQLite(ctx context.Context, path string, registry *core.Registry, databases []string) (finalErr error) {
	conn, err := dbsql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open SQLite file: %w", err)
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1) // sqlite does not support concurrent write access.

	txn, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if finalErr != nil {
			_ = txn.Rollback()
		} else {
			finalErr = txn.Commit()
		}
	}()

	prefixed := len(databases) > 1
	for _, name := range databases {
		database, ok := registry.Databases[name]
		if !ok {
			return core.Errorf(core.NotFound, "Database '%s' does not exist.", name)
		}
		for _, tableName := range database.TableNames() {
			target := tableName
			if prefixed {
				target = name + "_" + tableName
			}
			if err := writeSQLiteTable(ctx, txn, target, database.Tables[tableName]); err != nil {
				return fmt.Errorf("table %s.%s: %w", name, tableName, err)
			}
		}
	}
	return nil
}

func writeSQLiteTable(ctx context.Context, txn *dbsql.Tx, name string, table *core.Table) error {
	if _, err := txn.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqliteIdentifier(name)); err != nil {
		return err
	}
	if _, err := txn.ExecContext(ctx, sqliteCreateTable(name, table)); err != nil {
		return err
	}
	if len(table.Rows) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(table.Columns)), ",")
	stmt, err := txn.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", sqliteIdentifier(name), placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(table.Columns))
	for _, row := range table.Rows {
		for i, value := range row {
			args[i] = sqliteValue(value)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func sqliteCreateTable(name string, table *core.Table) string {
	defs := make([]string, 0, len(table.Columns)+1)
	for _, def := range table.ColumnDefs() {
		text := sqliteIdentifier(def.Name) + " " + sqliteType(def.Type)
		if def.Index == core.UniqueIndex {
			text += " UNIQUE"
		}
		defs = append(defs, text)
	}
	if len(table.PrimaryKey) > 0 {
		keys := make([]string, len(table.PrimaryKey))
		for i, c := range table.PrimaryKey {
			keys[i] = sqliteIdentifier(c)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", sqliteIdentifier(name), strings.Join(defs, ", "))
}

func sqliteType(t core.ColumnType) string {
	switch t.Base {
	case core.IntType, core.BoolType:
		return "INTEGER"
	case core.FloatType:
		return "REAL"
	default:
		return "TEXT"
	}
}

func sqliteValue(value core.Value) any {
	switch value.Kind {
	case core.TextKind:
		return value.Text
	case core.IntKind:
		return value.Int
	case core.FloatKind:
		return value.Float
	case core.BoolKind:
		return value.Bool
	default:
		return nil
	}
}

func sqliteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// exportSQLite writes a SQLite file. Remote targets are built in a temporary
// file and then copied.
func exportSQLite(ctx context.Context, path string, registry *core.Registry, databases []string, opts *S3Options) error {
	if IsLocal(path) {
		return WriteSQLite(ctx, localPath(path), registry, databases)
	}

	tmp, err := os.CreateTemp("", "quaildb-*.sqlite")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := WriteSQLite(ctx, tmpPath, registry, databases); err != nil {
		return err
	}

	src, err := os.Open(tmpPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := OpenWriter(ctx, path, opts)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
