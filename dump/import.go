package dump

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/db"
	"github.com/quailsql/QuailDB/sql"
)

// Report summarizes an import. Failed statements do not stop an import;
// their error lines are collected in Errors.
type Report struct {
	Message   string
	Succeeded int
	Tables    int
	Errors    []string
}

func (report Report) String() string {
	return report.Message
}

// Import reads path and loads it into database, which must exist. The
// engine's current database is switched to database.
func Import(ctx context.Context, engine *db.Engine, format Format, database, path string, opts *S3Options) (Report, error) {
	r, err := OpenReader(ctx, path, opts)
	if err != nil {
		return Report{}, err
	}
	defer r.Close()

	switch format {
	case FormatSQL:
		return ImportSQL(engine, database, r)
	case FormatJSON:
		return ImportJSON(engine, database, r)
	default:
		return Report{}, fmt.Errorf("%w for import: %s", ErrUnsupportedFormat, format)
	}
}

func useTarget(engine *db.Engine, database string) error {
	if _, ok := engine.Registry.Databases[database]; !ok {
		return core.Errorf(core.NotFound, "Database '%s' does not exist.", database)
	}
	return engine.Use(database)
}

// ImportSQL runs a SQL script against database. USE, CREATE DATABASE and SET
// statements are skipped so that everything lands in the target.
func ImportSQL(engine *db.Engine, database string, r io.Reader) (Report, error) {
	if err := useTarget(engine, database); err != nil {
		return Report{}, err
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read SQL script: %w", err)
	}

	var statements []sql.Statement
	for _, text := range sql.SplitStatements(string(content)) {
		if skipOnImport(text) {
			continue
		}
		statements = append(statements, sql.Parse(text))
	}

	var report Report
	for _, outcome := range engine.RunProgram(statements) {
		if outcome.Err != nil {
			report.Errors = append(report.Errors, outcome.String())
			continue
		}
		report.Succeeded++
		if outcome.Statement.Type() == sql.CreateTableStatementType {
			report.Tables++
		}
	}

	if len(report.Errors) > 0 {
		report.Message = fmt.Sprintf("Imported with %d errors. %d commands succeeded.", len(report.Errors), report.Succeeded)
	} else {
		report.Message = fmt.Sprintf("Successfully imported %d SQL commands into %s.", report.Succeeded, database)
	}
	return report, nil
}

func skipOnImport(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return true
	}
	switch strings.ToUpper(fields[0]) {
	case "USE", "SET":
		return true
	case "CREATE":
		return len(fields) > 1 && (strings.EqualFold(fields[1], "DATABASE") || strings.EqualFold(fields[1], "SCHEMA"))
	}
	return false
}

// ImportJSON loads JSON into database. Accepted shapes are a registry export
// containing database, a map of table name to table, a single table object
// {"table", "columns", "records"}, and a bare list of record objects.
func ImportJSON(engine *db.Engine, database string, r io.Reader) (Report, error) {
	if err := useTarget(engine, database); err != nil {
		return Report{}, err
	}

	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var data any
	if err := decoder.Decode(&data); err != nil {
		return Report{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	switch v := data.(type) {
	case map[string]any:
		if tables, ok := v[database].(map[string]any); ok {
			return importTables(engine, tables)
		}
		if tables, ok := singleDatabase(v); ok {
			return importTables(engine, tables)
		}
		if _, ok := v["table"]; ok {
			if _, ok := v["columns"]; ok {
				return importTableObject(engine, v)
			}
		}
		if allObjects(v) {
			return importTables(engine, v)
		}
		return Report{}, core.Errorf(core.InvalidCommand, "Unrecognized JSON format. Expected database or table structure.")

	case []any:
		if len(v) == 0 {
			return Report{}, core.Errorf(core.InvalidCommand, "Unsupported JSON format.")
		}
		name := "imported_table_" + time.Now().Format("20060102_150405")
		return importRecords(engine, name, v)

	default:
		return Report{}, core.Errorf(core.InvalidCommand, "Unsupported JSON format.")
	}
}

// singleDatabase unwraps a one-database registry export so it can be loaded
// under another name.
func singleDatabase(data map[string]any) (map[string]any, bool) {
	if len(data) != 1 {
		return nil, false
	}
	for _, value := range data {
		tables, ok := value.(map[string]any)
		if !ok || !allObjects(tables) {
			return nil, false
		}
		for _, table := range tables {
			if _, ok := table.(map[string]any)["columns"]; !ok {
				return nil, false
			}
		}
		return tables, true
	}
	return nil, false
}

func allObjects(data map[string]any) bool {
	for _, value := range data {
		if _, ok := value.(map[string]any); !ok {
			return false
		}
	}
	return len(data) > 0
}

// importTables loads tables in the registry JSON shape. Keys, auto-increment
// columns and counters are kept.
func importTables(engine *db.Engine, tables map[string]any) (Report, error) {
	var report Report
	records := 0

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := tables[name].(map[string]any)["columns"]; !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("Table %s is missing columns definition", name))
			continue
		}
		raw, err := json.Marshal(tables[name])
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Error processing table %s: %v", name, err))
			continue
		}
		table := &core.Table{Name: name}
		if err := json.Unmarshal(raw, table); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Error processing table %s: %v", name, err))
			continue
		}

		if _, err := engine.Execute(createTableSQL(table)); err != nil && !errorsIsAlreadyExists(err) {
			report.Errors = append(report.Errors, fmt.Sprintf("Error creating table %s: %v", name, err))
			continue
		}
		report.Tables++

		for _, row := range table.Rows {
			if _, err := engine.Execute(insertSQL(name, row)); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("Error inserting into %s: %v", name, err))
				continue
			}
			records++
		}

		restoreCounters(engine, name, table.AutoIncrement)
	}

	report.Succeeded = records
	if len(report.Errors) > 0 {
		report.Message = fmt.Sprintf("Imported %d tables with %d records. %d errors occurred.", report.Tables, records, len(report.Errors))
	} else {
		report.Message = fmt.Sprintf("Successfully imported %d tables with %d records.", report.Tables, records)
	}
	return report, nil
}

// restoreCounters raises auto-increment counters to the exported values so
// ids of deleted rows are not handed out again.
func restoreCounters(engine *db.Engine, table string, counters map[string]int64) {
	database, ok := engine.Registry.Databases[engine.CurrentDatabase()]
	if !ok {
		return
	}
	target, ok := database.Tables[table]
	if !ok {
		return
	}
	for column, counter := range counters {
		if current, ok := target.AutoIncrement[column]; ok && counter > current {
			target.AutoIncrement[column] = counter
		}
	}
}

func errorsIsAlreadyExists(err error) bool {
	return core.KindOf(err) == core.AlreadyExists
}

// importTableObject loads {"table": name, "columns": [...], "records": [...]}.
// Columns are names or {"name", "type", "constraints"} objects; records are
// positional lists or objects.
func importTableObject(engine *db.Engine, data map[string]any) (Report, error) {
	name, _ := data["table"].(string)
	if name == "" {
		return Report{}, core.Errorf(core.InvalidCommand, "Missing table name in JSON")
	}
	columns, _ := data["columns"].([]any)
	if len(columns) == 0 {
		return Report{}, core.Errorf(core.InvalidCommand, "No columns defined for table %s", name)
	}

	defs := make([]string, 0, len(columns))
	for _, column := range columns {
		switch c := column.(type) {
		case string:
			defs = append(defs, quoteIdentifier(c)+" VARCHAR")
		case map[string]any:
			columnName, _ := c["name"].(string)
			columnType, _ := c["type"].(string)
			if columnType == "" {
				columnType = "VARCHAR"
			}
			def := quoteIdentifier(columnName) + " " + columnType
			if constraints, ok := c["constraints"].([]any); ok {
				for _, constraint := range constraints {
					if s, ok := constraint.(string); ok {
						def += " " + s
					}
				}
			}
			defs = append(defs, def)
		default:
			return Report{}, core.Errorf(core.InvalidCommand, "Invalid column definition in JSON for table %s", name)
		}
	}

	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdentifier(name), strings.Join(defs, ", "))
	if _, err := engine.Execute(create); err != nil && !errorsIsAlreadyExists(err) {
		return Report{}, err
	}

	records, _ := data["records"].([]any)
	report := Report{Tables: 1}
	for _, record := range records {
		var insert string
		switch r := record.(type) {
		case []any:
			values := make([]string, len(r))
			for i, value := range r {
				values[i] = jsonLiteral(value)
			}
			insert = fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdentifier(name), strings.Join(values, ", "))
		case map[string]any:
			insert = insertObjectSQL(name, r)
		default:
			report.Errors = append(report.Errors, fmt.Sprintf("Skipped invalid record: %v", record))
			continue
		}
		if _, err := engine.Execute(insert); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Error inserting record: %v", err))
			continue
		}
		report.Succeeded++
	}

	if len(report.Errors) > 0 {
		report.Message = fmt.Sprintf("Imported table %s with %d/%d records. %d errors.", name, report.Succeeded, len(records), len(report.Errors))
	} else {
		report.Message = fmt.Sprintf("Successfully imported table %s with %d records.", name, report.Succeeded)
	}
	return report, nil
}

// importRecords creates a table of VARCHAR columns named after the first
// record's keys and inserts every record.
func importRecords(engine *db.Engine, name string, records []any) (Report, error) {
	first, ok := records[0].(map[string]any)
	if !ok {
		return Report{}, core.Errorf(core.InvalidCommand, "Expected records as dictionaries")
	}

	columns := sortedKeys(first)
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdentifier(c) + " VARCHAR"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdentifier(name), strings.Join(defs, ", "))
	if _, err := engine.Execute(create); err != nil && !errorsIsAlreadyExists(err) {
		return Report{}, err
	}

	report := Report{Tables: 1}
	for _, record := range records {
		object, ok := record.(map[string]any)
		if !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("Skipped non-dictionary record: %v", record))
			continue
		}
		if _, err := engine.Execute(insertObjectSQL(name, object)); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Error inserting record: %v", err))
			continue
		}
		report.Succeeded++
	}

	if len(report.Errors) > 0 {
		report.Message = fmt.Sprintf("Imported %d/%d records into %s. %d errors.", report.Succeeded, len(records), name, len(report.Errors))
	} else {
		report.Message = fmt.Sprintf("Successfully imported %d records into %s.", report.Succeeded, name)
	}
	return report, nil
}

func insertObjectSQL(table string, object map[string]any) string {
	columns := sortedKeys(object)
	names := make([]string, len(columns))
	values := make([]string, len(columns))
	for i, c := range columns {
		names[i] = quoteIdentifier(c)
		values[i] = jsonLiteral(object[c])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdentifier(table), strings.Join(names, ", "), strings.Join(values, ", "))
}

func sortedKeys(object map[string]any) []string {
	keys := make([]string, 0, len(object))
	for k := range object {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// jsonLiteral renders a decoded JSON value as a statement literal.
func jsonLiteral(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteString(v)
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "NULL"
		}
		return quoteString(string(raw))
	}
}
