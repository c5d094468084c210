package db

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/op"
	"github.com/quailsql/QuailDB/sql"
)

// Engine executes statements against a registry. The current database is
// held per engine, so several engines may share one registry. An Engine is
// not safe for concurrent use.
type Engine struct {
	Registry *core.Registry

	current   string
	logger    *slog.Logger
	observers []Observer
}

type Option func(*Engine)

// WithLogger sets the logger used for per-statement debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(engine *Engine) {
		if logger != nil {
			engine.logger = logger
		}
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(observer Observer) Option {
	return func(engine *Engine) {
		engine.Observe(observer)
	}
}

// WithDatabase selects a database at construction time. Unknown names are
// ignored.
func WithDatabase(name string) Option {
	return func(engine *Engine) {
		_ = engine.Use(name)
	}
}

func NewEngine(registry *core.Registry, opts ...Option) *Engine {
	if registry == nil {
		registry = core.NewRegistry()
	}
	engine := &Engine{
		Registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// CurrentDatabase returns the selected database name, or "" when none is
// selected.
func (engine *Engine) CurrentDatabase() string {
	return engine.current
}

// Use selects a database. The selection is unchanged when name does not
// exist.
func (engine *Engine) Use(name string) error {
	if _, err := op.GetDatabase(name, engine.Registry); err != nil {
		return err
	}
	engine.current = name
	return nil
}

// Execute parses and runs one statement.
func (engine *Engine) Execute(query string) (Result, error) {
	return engine.Run(sql.NewParser(query).Parse())
}

// Run executes a parsed statement, then reports it to the logger and to
// every observer.
func (engine *Engine) Run(statement sql.Statement) (Result, error) {
	startTime := time.Now()
	database, table := engine.target(statement)

	result, err := engine.dispatch(statement)
	elapsed := time.Since(startTime)
	if err == nil {
		result = withExecutionTime(result, elapsed.Seconds())
	}

	if err != nil {
		engine.logger.Debug("statement failed", "type", statement.Type().String(), "database", database, "table", table, "error", err, "kind", core.KindOf(err).String())
	} else {
		engine.logger.Debug("statement executed", "type", statement.Type().String(), "database", database, "table", table, "duration", elapsed)
	}

	engine.emit(Event{
		Statement: statement,
		Type:      statement.Type(),
		Database:  database,
		Table:     table,
		Result:    result,
		Err:       err,
		Duration:  elapsed,
		Time:      startTime,
	})

	return result, err
}

func (engine *Engine) dispatch(statement sql.Statement) (Result, error) {
	switch statement.Type() {
	case sql.SelectStatementType:
		return engine.executeSelectStatement(statement.(sql.SelectStatement))
	case sql.InsertStatementType:
		return engine.executeInsertStatement(statement.(sql.InsertStatement))
	case sql.UpdateStatementType:
		return engine.executeUpdateStatement(statement.(sql.UpdateStatement))
	case sql.DeleteStatementType:
		return engine.executeDeleteStatement(statement.(sql.DeleteStatement))
	case sql.CreateTableStatementType:
		return engine.executeCreateTableStatement(statement.(sql.CreateTableStatement))
	case sql.DropTableStatementType:
		return engine.executeDropTableStatement(statement.(sql.DropTableStatement))
	case sql.CreateDatabaseStatementType:
		return engine.executeCreateDatabaseStatement(statement.(sql.CreateDatabaseStatement))
	case sql.DropDatabaseStatementType:
		return engine.executeDropDatabaseStatement(statement.(sql.DropDatabaseStatement))
	case sql.UseDatabaseStatementType:
		return engine.executeUseDatabaseStatement(statement.(sql.UseDatabaseStatement))
	case sql.AlterTableStatementType:
		return engine.executeAlterTableStatement(statement.(sql.AlterTableStatement))
	case sql.DescribeStatementType:
		return engine.executeDescribeStatement(statement.(sql.DescribeStatement))
	case sql.ShowDatabasesStatementType:
		return engine.executeShowDatabasesStatement(statement.(sql.ShowDatabasesStatement))
	case sql.ShowTablesStatementType:
		return engine.executeShowTablesStatement(statement.(sql.ShowTablesStatement))
	case sql.InvalidStatementType:
		invalid := statement.(sql.InvalidStatement)
		engine.logger.Debug("unrecognized statement", "text", invalid.Text, "reason", invalid.Reason)
		return nil, core.Errorf(core.InvalidCommand, "Invalid command '%s'", invalid.Text)
	default:
		return nil, core.Errorf(core.InvalidCommand, "unsupported statement type: %v", statement.Type())
	}
}

func withExecutionTime(result Result, secs float64) Result {
	switch r := result.(type) {
	case QueryResult:
		r.ExecutionTimeSec = secs
		return r
	case CommitResult:
		r.ExecutionTimeSec = secs
		return r
	}
	return result
}

// target names the database and table a statement works on, resolving
// unqualified names against the current database.
func (engine *Engine) target(statement sql.Statement) (string, string) {
	orCurrent := func(name string) string {
		if name == "" {
			return engine.current
		}
		return name
	}

	switch s := statement.(type) {
	case sql.SelectStatement:
		return orCurrent(s.Database), s.Table
	case sql.InsertStatement:
		return orCurrent(s.Database), s.Table
	case sql.UpdateStatement:
		return orCurrent(s.Database), s.Table
	case sql.DeleteStatement:
		return orCurrent(s.Database), s.Table
	case sql.CreateTableStatement:
		return orCurrent(s.Database), s.Table
	case sql.DropTableStatement:
		return orCurrent(s.Database), s.Table
	case sql.AlterTableStatement:
		return orCurrent(s.Database), s.Table
	case sql.DescribeStatement:
		return orCurrent(s.Database), s.Table
	case sql.ShowTablesStatement:
		return orCurrent(s.Database), ""
	case sql.CreateDatabaseStatement:
		return s.Database, ""
	case sql.DropDatabaseStatement:
		return s.Database, ""
	case sql.UseDatabaseStatement:
		return s.Database, ""
	}
	return engine.current, ""
}

// database resolves name, or the current database when name is empty.
func (engine *Engine) database(name string) (*op.DatabaseOp, error) {
	if name == "" {
		if engine.current == "" {
			return nil, core.ErrNoDatabaseSelected
		}
		name = engine.current
	}
	return op.GetDatabase(name, engine.Registry)
}

func (engine *Engine) table(database, table string) (*op.TableOp, error) {
	databaseOp, err := engine.database(database)
	if err != nil {
		return nil, err
	}
	return databaseOp.GetTable(table)
}

func (engine *Engine) executeSelectStatement(statement sql.SelectStatement) (QueryResult, error) {
	tableOp, err := engine.table(statement.Database, statement.Table)
	if err != nil {
		return QueryResult{}, err
	}

	match, err := engine.wherePredicate(tableOp.Table, statement.Where, statement.WhereKind)
	if err != nil {
		return QueryResult{}, err
	}

	columns, rows, err := tableOp.Select(statement.Columns, match)
	if err != nil {
		return QueryResult{}, err
	}

	numeric := make([]bool, len(columns))
	for i, c := range columns {
		base := tableOp.Table.TypeOf(c).Base
		numeric[i] = base == core.IntType || base == core.FloatType
	}

	result := newQueryResult(columns, rows, numeric)
	result.Message = "Empty set"
	result.ExecutionOps = len(tableOp.Table.Rows)
	return result, nil
}

func (engine *Engine) executeInsertStatement(statement sql.InsertStatement) (CommitResult, error) {
	tableOp, err := engine.table(statement.Database, statement.Table)
	if err != nil {
		return CommitResult{}, err
	}

	row, err := tableOp.Insert(statement.Values, statement.Columns)
	if err != nil {
		return CommitResult{}, err
	}

	return CommitResult{
		Message:        fmt.Sprintf("Inserted %s into %s.", displayRow(row), statement.Table),
		RecordsWritten: 1,
		ExecutionOps:   1,
	}, nil
}

// displayRow renders an inserted row as a bracketed list with text values
// quoted.
func displayRow(row core.Row) string {
	cells := make([]string, len(row))
	for i, value := range row {
		if value.Kind == core.TextKind {
			cells[i] = "'" + value.Text + "'"
		} else {
			cells[i] = value.String()
		}
	}
	return "[" + strings.Join(cells, ", ") + "]"
}

func (engine *Engine) executeUpdateStatement(statement sql.UpdateStatement) (CommitResult, error) {
	tableOp, err := engine.table(statement.Database, statement.Table)
	if err != nil {
		return CommitResult{}, err
	}

	assignments, err := sql.ParseAssignments(statement.Set)
	if err != nil {
		return CommitResult{}, err
	}

	match, err := engine.wherePredicate(tableOp.Table, statement.Where, sql.ClassifyWhere(statement.Where))
	if err != nil {
		return CommitResult{}, err
	}

	updated, err := tableOp.Update(assignments, match)
	if err != nil {
		return CommitResult{}, err
	}

	return CommitResult{
		Message:        fmt.Sprintf("Updated %d row/s in %s.", updated, statement.Table),
		RecordsWritten: updated,
		ExecutionOps:   len(tableOp.Table.Rows),
	}, nil
}

func (engine *Engine) executeDeleteStatement(statement sql.DeleteStatement) (CommitResult, error) {
	tableOp, err := engine.table(statement.Database, statement.Table)
	if err != nil {
		return CommitResult{}, err
	}

	match, err := engine.wherePredicate(tableOp.Table, statement.Where, sql.ClassifyWhere(statement.Where))
	if err != nil {
		return CommitResult{}, err
	}

	scanned := len(tableOp.Table.Rows)
	deleted := tableOp.Delete(match)

	return CommitResult{
		Message:        fmt.Sprintf("Deleted %d row/s from %s.", deleted, statement.Table),
		RecordsDeleted: deleted,
		ExecutionOps:   scanned,
	}, nil
}

func (engine *Engine) executeCreateTableStatement(statement sql.CreateTableStatement) (CommitResult, error) {
	databaseOp, err := engine.database(statement.Database)
	if err != nil {
		return CommitResult{}, err
	}

	if _, exists := databaseOp.Database.Tables[statement.Table]; exists && statement.IfNotExists {
		return CommitResult{
			Message: fmt.Sprintf("Table %s already exists. Skipped.", statement.Table),
		}, nil
	}

	schema, err := sql.ParseColumnDefinitions(statement.ColumnDefs)
	if err != nil {
		return CommitResult{}, err
	}

	tableOp, err := databaseOp.CreateTable(statement.Table, schema)
	if err != nil {
		return CommitResult{}, err
	}

	defs := tableOp.Describe()
	rendered := make([]string, len(defs))
	for i, def := range defs {
		rendered[i] = def.String()
	}

	return CommitResult{
		Message:       fmt.Sprintf("Table %s created with columns: %s.", statement.Table, strings.Join(rendered, ", ")),
		TablesCreated: 1,
		ExecutionOps:  1,
	}, nil
}

func (engine *Engine) executeDropTableStatement(statement sql.DropTableStatement) (CommitResult, error) {
	databaseOp, err := engine.database(statement.Database)
	if err != nil {
		return CommitResult{}, err
	}

	dropped, err := databaseOp.DropTable(statement.Table, statement.IfExists)
	if err != nil {
		return CommitResult{}, err
	}
	if !dropped {
		return CommitResult{
			Message: fmt.Sprintf("Table %s does not exist. Skipped.", statement.Table),
		}, nil
	}

	return CommitResult{
		Message:       fmt.Sprintf("Table %s dropped.", statement.Table),
		TablesDeleted: 1,
		ExecutionOps:  1,
	}, nil
}

func (engine *Engine) executeCreateDatabaseStatement(statement sql.CreateDatabaseStatement) (CommitResult, error) {
	if _, exists := engine.Registry.Databases[statement.Database]; exists && statement.IfNotExists {
		return CommitResult{
			Message: fmt.Sprintf("Database %s already exists. Skipped.", statement.Database),
		}, nil
	}

	if _, err := op.CreateDatabase(statement.Database, engine.Registry); err != nil {
		return CommitResult{}, err
	}

	return CommitResult{
		Message:          fmt.Sprintf("Database %s created.", statement.Database),
		DatabasesCreated: 1,
		ExecutionOps:     1,
	}, nil
}

func (engine *Engine) executeDropDatabaseStatement(statement sql.DropDatabaseStatement) (CommitResult, error) {
	dropped, err := op.DropDatabase(statement.Database, engine.Registry, statement.IfExists)
	if err != nil {
		return CommitResult{}, err
	}
	if !dropped {
		return CommitResult{
			Message: fmt.Sprintf("Database %s does not exist. Skipped.", statement.Database),
		}, nil
	}

	if engine.current == statement.Database {
		engine.current = ""
	}

	return CommitResult{
		Message:          fmt.Sprintf("Database %s dropped.", statement.Database),
		DatabasesDeleted: 1,
		ExecutionOps:     1,
	}, nil
}

func (engine *Engine) executeUseDatabaseStatement(statement sql.UseDatabaseStatement) (CommitResult, error) {
	if err := engine.Use(statement.Database); err != nil {
		return CommitResult{}, err
	}
	return CommitResult{
		Message: fmt.Sprintf("Using database %s.", statement.Database),
	}, nil
}

func (engine *Engine) executeShowDatabasesStatement(statement sql.ShowDatabasesStatement) (QueryResult, error) {
	databases := op.ListDatabases(engine.Registry)

	data := make([][]string, len(databases))
	for i, name := range databases {
		data[i] = []string{name}
	}

	result := textResult([]string{"Database"}, data)
	result.Message = "No databases found."
	result.ExecutionOps = len(databases)
	return result, nil
}

func (engine *Engine) executeShowTablesStatement(statement sql.ShowTablesStatement) (QueryResult, error) {
	databaseOp, err := engine.database(statement.Database)
	if err != nil {
		return QueryResult{}, err
	}

	tables := databaseOp.TableNames()
	data := make([][]string, len(tables))
	for i, name := range tables {
		data[i] = []string{name}
	}

	result := textResult([]string{"Tables_in_" + databaseOp.Database.Name}, data)
	result.Message = "No tables found in current database."
	result.ExecutionOps = len(tables)
	return result, nil
}

func (engine *Engine) executeAlterTableStatement(statement sql.AlterTableStatement) (CommitResult, error) {
	tableOp, err := engine.table(statement.Database, statement.Table)
	if err != nil {
		return CommitResult{}, err
	}

	var message string
	switch statement.Action {
	case sql.AlterAdd:
		def, err := sql.ParseColumnDefinition(statement.Argument)
		if err != nil {
			return CommitResult{}, err
		}
		if err := tableOp.AddColumn(def); err != nil {
			return CommitResult{}, err
		}
		message = fmt.Sprintf("Column %s added to %s.", def.Name, statement.Table)

	case sql.AlterDrop:
		if err := tableOp.DropColumn(statement.Argument); err != nil {
			return CommitResult{}, err
		}
		message = fmt.Sprintf("Column %s dropped from %s.", statement.Argument, statement.Table)

	case sql.AlterModify:
		def, err := sql.ParseColumnDefinition(statement.Argument)
		if err != nil {
			return CommitResult{}, err
		}
		if err := tableOp.ModifyColumn(def); err != nil {
			return CommitResult{}, err
		}
		message = fmt.Sprintf("Column %s modified in %s.", def.Name, statement.Table)

	default:
		return CommitResult{}, core.Errorf(core.InvalidCommand, "Unsupported ALTER TABLE action '%s'", statement.Action)
	}

	return CommitResult{
		Message:       message,
		TablesAltered: 1,
		ExecutionOps:  len(tableOp.Table.Rows) + 1,
	}, nil
}

func (engine *Engine) executeDescribeStatement(statement sql.DescribeStatement) (QueryResult, error) {
	tableOp, err := engine.table(statement.Database, statement.Table)
	if err != nil {
		return QueryResult{}, err
	}

	var data [][]string
	for _, def := range tableOp.Describe() {
		extra := ""
		if def.AutoIncrement {
			extra = "auto_increment"
		}
		data = append(data, []string{def.Name, def.Type.String(), string(def.Index), extra})
	}

	result := textResult([]string{"Field", "Type", "Key", "Extra"}, data)
	result.ExecutionOps = len(data)
	return result, nil
}
