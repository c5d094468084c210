package dump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quailsql/QuailDB/core"
)

type Format string

const (
	FormatSQL    Format = "sql"
	FormatJSON   Format = "json"
	FormatSQLite Format = "sqlite"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sql":
		return FormatSQL, nil
	case "json":
		return FormatJSON, nil
	case "sqlite", "sqlite3", "db":
		return FormatSQLite, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

func (format Format) label() string {
	switch format {
	case FormatSQLite:
		return "SQLite"
	default:
		return strings.ToUpper(string(format))
	}
}

// DefaultPath names an export file after the database and the current time.
func DefaultPath(format Format, database string, now time.Time) string {
	if database == "" || database == "*" {
		database = "all_databases"
	}
	return fmt.Sprintf("%s_%s.%s", database, now.Format("20060102_150405"), format)
}

// Export writes the named database, or every database for "" and "*", to
// path in the given format and returns a one-line summary.
func Export(ctx context.Context, registry *core.Registry, format Format, database, path string, opts *S3Options) (string, error) {
	databases, err := selectDatabases(registry, database)
	if err != nil {
		return "", err
	}
	if path == "" {
		path = DefaultPath(format, database, time.Now())
	}

	switch format {
	case FormatSQL, FormatJSON:
		w, err := OpenWriter(ctx, path, opts)
		if err != nil {
			return "", err
		}
		if format == FormatSQL {
			err = WriteSQL(w, registry, databases)
		} else {
			err = WriteJSON(w, registry, databases)
		}
		if closeErr := w.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return "", fmt.Errorf("failed to export to %s: %w", path, err)
		}

	case FormatSQLite:
		if err := exportSQLite(ctx, path, registry, databases, opts); err != nil {
			return "", fmt.Errorf("failed to export to %s: %w", path, err)
		}

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return fmt.Sprintf("Successfully exported to %s file: %s", format.label(), path), nil
}

// selectDatabases resolves an export target to database names in sorted
// order.
func selectDatabases(registry *core.Registry, database string) ([]string, error) {
	if database == "" || database == "*" {
		return registry.DatabaseNames(), nil
	}
	if _, ok := registry.Databases[database]; !ok {
		return nil, core.Errorf(core.NotFound, "Database '%s' does not exist.", database)
	}
	return []string{database}, nil
}

// WriteJSON writes the databases in the registry JSON shape, indented.
func WriteJSON(w io.Writer, registry *core.Registry, databases []string) error {
	out := make(map[string]*core.Database, len(databases))
	for _, name := range databases {
		database, ok := registry.Databases[name]
		if !ok {
			return core.Errorf(core.NotFound, "Database '%s' does not exist.", name)
		}
		out[name] = database
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// WriteSQL writes a script that recreates the databases: CREATE DATABASE,
// USE, CREATE TABLE with a trailing PRIMARY KEY clause, then one INSERT per
// row.
func WriteSQL(w io.Writer, registry *core.Registry, databases []string) error {
	var b strings.Builder
	for _, name := range databases {
		database, ok := registry.Databases[name]
		if !ok {
			return core.Errorf(core.NotFound, "Database '%s' does not exist.", name)
		}

		fmt.Fprintf(&b, "-- Export of database: %s\n", name)
		fmt.Fprintf(&b, "CREATE DATABASE IF NOT EXISTS %s;\n", quoteIdentifier(name))
		fmt.Fprintf(&b, "USE %s;\n\n", quoteIdentifier(name))

		for _, tableName := range database.TableNames() {
			table := database.Tables[tableName]
			b.WriteString(createTableSQL(table))
			b.WriteString(";\n\n")
			for _, row := range table.Rows {
				b.WriteString(insertSQL(table.Name, row))
				b.WriteString(";\n")
			}
			b.WriteString("\n")
		}

		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
		b.Reset()
	}
	return nil
}

func createTableSQL(table *core.Table) string {
	defs := make([]string, 0, len(table.Columns)+1)
	for _, def := range table.ColumnDefs() {
		text := quoteIdentifier(def.Name) + " " + def.Type.String()
		if def.AutoIncrement {
			text += " AUTO_INCREMENT"
		}
		if def.Index != core.NoIndex && def.Index != core.PrimaryKey {
			text += " " + string(def.Index)
		}
		defs = append(defs, text)
	}
	if len(table.PrimaryKey) > 0 {
		keys := make([]string, len(table.PrimaryKey))
		for i, c := range table.PrimaryKey {
			keys[i] = quoteIdentifier(c)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoteIdentifier(table.Name), strings.Join(defs, ",\n  "))
}

func insertSQL(table string, row core.Row) string {
	values := make([]string, len(row))
	for i, value := range row {
		values[i] = sqlLiteral(value)
	}
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdentifier(table), strings.Join(values, ", "))
}

func sqlLiteral(value core.Value) string {
	if value.Kind == core.TextKind {
		return quoteString(value.Text)
	}
	return value.String()
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdentifier(name string) string {
	return "`" + name + "`"
}
