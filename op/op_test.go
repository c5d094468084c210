package op

import (
	"errors"
	"reflect"
	"testing"

	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/sql"
)

func setupTestDatabase(t *testing.T) (*core.Registry, *DatabaseOp) {
	registry := core.NewRegistry()
	dbOp, err := CreateDatabase("shop", registry)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	return registry, dbOp
}

func mustSchema(t *testing.T, defs string) core.Schema {
	schema, err := sql.ParseColumnDefinitions(defs)
	if err != nil {
		t.Fatalf("Failed to parse %q: %v", defs, err)
	}
	return schema
}

func mustTable(t *testing.T, dbOp *DatabaseOp, name, defs string) *TableOp {
	tableOp, err := dbOp.CreateTable(name, mustSchema(t, defs))
	if err != nil {
		t.Fatalf("Failed to create table %s: %v", name, err)
	}
	return tableOp
}

func literals(values ...string) []core.Literal {
	out := make([]core.Literal, len(values))
	for i, v := range values {
		out[i] = core.Literal{Text: v}
	}
	return out
}

func equalsPredicate(table *core.Table, column string, value core.Value) Predicate {
	idx := table.ColumnIndex(column)
	return func(row core.Row) bool { return row[idx].Equal(value) }
}

func TestDatabaseLifecycle(t *testing.T) {
	registry, _ := setupTestDatabase(t)

	if _, err := CreateDatabase("shop", registry); !errors.Is(err, core.ErrAlreadyExists) {
		t.Errorf("Expected AlreadyExists, got %v", err)
	}
	if _, err := CreateDatabase("archive", registry); err != nil {
		t.Fatalf("Failed to create second database: %v", err)
	}
	if got := ListDatabases(registry); !reflect.DeepEqual(got, []string{"archive", "shop"}) {
		t.Errorf("Expected sorted names, got %v", got)
	}

	dropped, err := DropDatabase("missing", registry, true)
	if err != nil || dropped {
		t.Errorf("Expected skipped drop, got %v, %v", dropped, err)
	}
	if _, err := DropDatabase("missing", registry, false); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if dropped, err := DropDatabase("archive", registry, false); err != nil || !dropped {
		t.Errorf("Expected drop, got %v, %v", dropped, err)
	}
	if _, err := GetDatabase("archive", registry); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound after drop, got %v", err)
	}
}

func TestCreateTableKeys(t *testing.T) {
	tests := []struct {
		name       string
		defs       string
		primaryKey []string
		indexes    map[string]core.IndexKind
	}{
		{
			"auto int defaults to primary key",
			"id INT AUTO_INCREMENT, name TEXT",
			[]string{"id"},
			map[string]core.IndexKind{"id": core.PrimaryKey},
		},
		{
			"inline and standalone merge",
			"id INT PRIMARY KEY, code TEXT UNIQUE, PRIMARY KEY (id)",
			[]string{"id"},
			map[string]core.IndexKind{"id": core.PrimaryKey, "code": core.UniqueIndex},
		},
		{
			"composite",
			"a INT, b TEXT, PRIMARY KEY (a, b)",
			[]string{"a", "b"},
			map[string]core.IndexKind{"a": core.PrimaryKey, "b": core.PrimaryKey},
		},
		{
			"auto with unique index",
			"id INT AUTO_INCREMENT UNIQUE, sku TEXT PRIMARY KEY",
			[]string{"sku"},
			map[string]core.IndexKind{"id": core.UniqueIndex, "sku": core.PrimaryKey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, dbOp := setupTestDatabase(t)
			tableOp := mustTable(t, dbOp, "t", tt.defs)

			if !reflect.DeepEqual(tableOp.Table.PrimaryKey, tt.primaryKey) {
				t.Errorf("Expected primary key %v, got %v", tt.primaryKey, tableOp.Table.PrimaryKey)
			}
			if !reflect.DeepEqual(tableOp.Table.Indexes, tt.indexes) {
				t.Errorf("Expected indexes %v, got %v", tt.indexes, tableOp.Table.Indexes)
			}
		})
	}
}

func TestCreateTableRejected(t *testing.T) {
	tests := []struct {
		name string
		defs string
		kind core.ErrorKind
	}{
		{"two auto columns", "a INT AUTO_INCREMENT, b INT AUTO_INCREMENT", core.ConstraintViolation},
		{"two inline keys", "a INT PRIMARY KEY, b INT PRIMARY KEY", core.ConstraintViolation},
		{"two key clauses", "a INT, b INT, PRIMARY KEY (a), PRIMARY KEY (b)", core.ConstraintViolation},
		{"auto without key next to key", "a INT AUTO_INCREMENT, b INT PRIMARY KEY", core.ConstraintViolation},
		{"text auto", "a TEXT AUTO_INCREMENT", core.ConstraintViolation},
		{"unknown key column", "a INT, PRIMARY KEY (b)", core.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, dbOp := setupTestDatabase(t)
			_, err := dbOp.CreateTable("t", mustSchema(t, tt.defs))
			if core.KindOf(err) != tt.kind {
				t.Fatalf("Expected %v, got %v", tt.kind, err)
			}
			if len(dbOp.TableNames()) != 0 {
				t.Error("Rejected table must not be registered")
			}
		})
	}

	_, dbOp := setupTestDatabase(t)
	mustTable(t, dbOp, "t", "a INT")
	if _, err := dbOp.CreateTable("t", mustSchema(t, "a INT")); !errors.Is(err, core.ErrAlreadyExists) {
		t.Errorf("Expected AlreadyExists, got %v", err)
	}
}

func TestInsertAutoIncrementAndArity(t *testing.T) {
	_, dbOp := setupTestDatabase(t)
	tableOp := mustTable(t, dbOp, "users", "id INT AUTO_INCREMENT PRIMARY KEY, name TEXT, age INT")

	row, err := tableOp.Insert([]core.Literal{{Text: "Alice", Quoted: true}, {Text: "30"}}, nil)
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	expected := core.Row{core.IntValue(1), core.TextValue("Alice"), core.IntValue(30)}
	if !reflect.DeepEqual(row, expected) {
		t.Errorf("Expected %v, got %v", expected, row)
	}

	row, err = tableOp.Insert([]core.Literal{{Text: "Bob", Quoted: true}}, []string{"name"})
	if err != nil {
		t.Fatalf("Failed to insert with columns: %v", err)
	}
	if row[0] != core.IntValue(2) || !row[2].IsNull() {
		t.Errorf("Expected id 2 and NULL age, got %v", row)
	}

	if _, err := tableOp.Insert(literals("10", "Carol", "40"), nil); err != nil {
		t.Fatalf("Failed to insert explicit id: %v", err)
	}
	row, _ = tableOp.Insert([]core.Literal{{Text: "Dan", Quoted: true}, {Text: "NULL"}}, nil)
	if row[0] != core.IntValue(11) {
		t.Errorf("Expected counter to continue after explicit id, got %v", row[0])
	}

	if _, err := tableOp.Insert(literals("x"), nil); !errors.Is(err, core.ErrArityMismatch) {
		t.Errorf("Expected ArityMismatch, got %v", err)
	}
	if _, err := tableOp.Insert(literals("1", "2"), []string{"name"}); !errors.Is(err, core.ErrArityMismatch) {
		t.Errorf("Expected ArityMismatch for column list, got %v", err)
	}
	if _, err := tableOp.Insert(literals("x"), []string{"nope"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound for unknown column, got %v", err)
	}
}

func TestInsertFailuresLeaveNoTrace(t *testing.T) {
	_, dbOp := setupTestDatabase(t)
	tableOp := mustTable(t, dbOp, "users", "id INT AUTO_INCREMENT PRIMARY KEY, email TEXT UNIQUE, age INT")

	if _, err := tableOp.Insert(literals("a@x", "30"), nil); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	_, err := tableOp.Insert(literals("a@x", "31"), nil)
	if err == nil || err.Error() != "Duplicate entry 'a@x' for key 'email'" {
		t.Errorf("Expected unique violation, got %v", err)
	}

	_, err = tableOp.Insert(literals("b@x", "old"), nil)
	if err == nil || err.Error() != "Invalid INT value: old" {
		t.Errorf("Expected type mismatch, got %v", err)
	}

	_, err = tableOp.Insert(literals("1", "c@x", "20"), nil)
	if err == nil || err.Error() != "Duplicate entry '1' for key 'PRIMARY KEY'" {
		t.Errorf("Expected primary key violation, got %v", err)
	}

	if len(tableOp.Table.Rows) != 1 {
		t.Errorf("Expected 1 row, got %d", len(tableOp.Table.Rows))
	}
	if tableOp.Table.AutoIncrement["id"] != 1 {
		t.Errorf("Expected counter 1 after failures, got %d", tableOp.Table.AutoIncrement["id"])
	}

	// NULLs never collide
	if _, err := tableOp.Insert(literals("NULL", "1"), nil); err != nil {
		t.Fatalf("Failed to insert NULL email: %v", err)
	}
	if _, err := tableOp.Insert(literals("NULL", "2"), nil); err != nil {
		t.Errorf("Expected second NULL email to be accepted, got %v", err)
	}
}

func TestInsertCompositeKey(t *testing.T) {
	_, dbOp := setupTestDatabase(t)
	tableOp := mustTable(t, dbOp, "t", "a INT, b TEXT, PRIMARY KEY (a, b)")

	for _, values := range [][]string{{"1", "x"}, {"1", "y"}, {"2", "x"}} {
		if _, err := tableOp.Insert(literals(values...), nil); err != nil {
			t.Fatalf("Failed to insert %v: %v", values, err)
		}
	}

	_, err := tableOp.Insert(literals("1", "x"), nil)
	if err == nil || err.Error() != "Duplicate entry '1-x' for key 'PRIMARY KEY'" {
		t.Errorf("Expected composite violation, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	_, dbOp := setupTestDatabase(t)
	tableOp := mustTable(t, dbOp, "t", "a INT, b TEXT")
	tableOp.Insert(literals("1", "x"), nil)
	tableOp.Insert(literals("2", "y"), nil)

	columns, rows, err := tableOp.Select([]string{"b"}, equalsPredicate(tableOp.Table, "a", core.IntValue(2)))
	if err != nil {
		t.Fatalf("Failed to select: %v", err)
	}
	if !reflect.DeepEqual(columns, []string{"b"}) || !reflect.DeepEqual(rows, []core.Row{{core.TextValue("y")}}) {
		t.Errorf("Unexpected result %v %v", columns, rows)
	}

	columns, rows, _ = tableOp.Select(nil, MatchAll)
	if len(columns) != 2 || len(rows) != 2 {
		t.Errorf("Expected all columns and rows, got %v %v", columns, rows)
	}

	if _, _, err := tableOp.Select([]string{"c"}, MatchAll); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	_, dbOp := setupTestDatabase(t)
	tableOp := mustTable(t, dbOp, "t", "id INT PRIMARY KEY, name TEXT, age INT")
	tableOp.Insert(literals("1", "Alice", "30"), nil)
	tableOp.Insert(literals("2", "Bob", "25"), nil)

	set := []sql.Assignment{{Column: "age", Value: core.Literal{Text: "31"}}}
	n, err := tableOp.Update(set, equalsPredicate(tableOp.Table, "name", core.TextValue("Alice")))
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 row updated, got %d, %v", n, err)
	}
	if tableOp.Table.Rows[0][2] != core.IntValue(31) {
		t.Errorf("Expected age 31, got %v", tableOp.Table.Rows[0][2])
	}

	set = []sql.Assignment{{Column: "id", Value: core.Literal{Text: "7"}}}
	if _, err := tableOp.Update(set, MatchAll); !errors.Is(err, core.ErrConstraintViolation) {
		t.Errorf("Expected key violation when both rows get id 7, got %v", err)
	}
	if tableOp.Table.Rows[0][0] != core.IntValue(1) || tableOp.Table.Rows[1][0] != core.IntValue(2) {
		t.Error("Rejected update must not change rows")
	}

	set = []sql.Assignment{{Column: "age", Value: core.Literal{Text: "old"}}}
	if _, err := tableOp.Update(set, MatchAll); !errors.Is(err, core.ErrTypeMismatch) {
		t.Errorf("Expected TypeMismatch, got %v", err)
	}

	set = []sql.Assignment{{Column: "nope", Value: core.Literal{Text: "1"}}}
	if _, err := tableOp.Update(set, MatchAll); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	_, dbOp := setupTestDatabase(t)
	tableOp := mustTable(t, dbOp, "t", "a INT")
	for _, v := range []string{"1", "2", "3"} {
		tableOp.Insert(literals(v), nil)
	}

	if n := tableOp.Delete(equalsPredicate(tableOp.Table, "a", core.IntValue(2))); n != 1 {
		t.Errorf("Expected 1 row deleted, got %d", n)
	}
	if n := tableOp.Delete(equalsPredicate(tableOp.Table, "a", core.IntValue(9))); n != 0 {
		t.Errorf("Expected 0 rows deleted, got %d", n)
	}
	if len(tableOp.Table.Rows) != 2 {
		t.Errorf("Expected 2 rows left, got %d", len(tableOp.Table.Rows))
	}
}

func TestAlterColumns(t *testing.T) {
	_, dbOp := setupTestDatabase(t)
	tableOp := mustTable(t, dbOp, "t", "id INT PRIMARY KEY, name TEXT")
	tableOp.Insert(literals("1", "Alice"), nil)

	email := core.ColumnDef{Name: "email", Type: core.ColumnType{Base: core.VarcharType, Size: 100}, Index: core.UniqueIndex}
	if err := tableOp.AddColumn(email); err != nil {
		t.Fatalf("Failed to add column: %v", err)
	}
	if len(tableOp.Table.Rows[0]) != 3 || !tableOp.Table.Rows[0][2].IsNull() {
		t.Errorf("Expected NULL in new column, got %v", tableOp.Table.Rows[0])
	}
	if err := tableOp.AddColumn(email); !errors.Is(err, core.ErrAlreadyExists) {
		t.Errorf("Expected AlreadyExists, got %v", err)
	}
	if err := tableOp.AddColumn(core.ColumnDef{Name: "seq", Type: core.ColumnType{Base: core.IntType}, AutoIncrement: true}); !errors.Is(err, core.ErrConstraintViolation) {
		t.Errorf("Expected unindexed auto column to be rejected next to a key, got %v", err)
	}

	if err := tableOp.ModifyColumn(core.ColumnDef{Name: "name", Type: core.ColumnType{Base: core.VarcharType, Size: 20}}); err != nil {
		t.Fatalf("Failed to modify column: %v", err)
	}
	if tableOp.Table.Types["name"].String() != "VARCHAR(20)" {
		t.Errorf("Expected VARCHAR(20), got %v", tableOp.Table.Types["name"])
	}
	if err := tableOp.ModifyColumn(core.ColumnDef{Name: "nope"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}

	if err := tableOp.DropColumn("id"); err != nil {
		t.Fatalf("Failed to drop column: %v", err)
	}
	if !reflect.DeepEqual(tableOp.Table.Columns, []string{"name", "email"}) {
		t.Errorf("Unexpected columns %v", tableOp.Table.Columns)
	}
	if len(tableOp.Table.PrimaryKey) != 0 || tableOp.Table.Indexes["id"] != core.NoIndex {
		t.Error("Expected key metadata of dropped column to be gone")
	}
	if !reflect.DeepEqual(tableOp.Table.Rows[0], core.Row{core.TextValue("Alice"), core.Null()}) {
		t.Errorf("Unexpected row %v", tableOp.Table.Rows[0])
	}
	if err := tableOp.DropColumn("nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}

	if err := tableOp.AddColumn(core.ColumnDef{Name: "seq", Type: core.ColumnType{Base: core.IntType}, AutoIncrement: true}); err != nil {
		t.Fatalf("Expected auto column to become the key of a keyless table: %v", err)
	}
	if tableOp.Table.Indexes["seq"] != core.PrimaryKey || !tableOp.Table.Rows[0][2].IsNull() {
		t.Error("Expected seq to be PRIMARY KEY with NULL for existing rows")
	}
}

func TestModifyAutoIncrementColumn(t *testing.T) {
	_, dbOp := setupTestDatabase(t)
	tableOp := mustTable(t, dbOp, "a", "id INT AUTO_INCREMENT PRIMARY KEY, v TEXT")
	tableOp.Insert([]core.Literal{{Text: "x", Quoted: true}}, []string{"v"})

	err := tableOp.ModifyColumn(core.ColumnDef{Name: "id", Type: core.ColumnType{Base: core.TextType}})
	if !errors.Is(err, core.ErrConstraintViolation) {
		t.Fatalf("Expected ConstraintViolation, got %v", err)
	}
	if tableOp.Table.Types["id"].Base != core.IntType {
		t.Errorf("Expected id to stay INT, got %v", tableOp.Table.Types["id"])
	}

	if err := tableOp.ModifyColumn(core.ColumnDef{Name: "id", Type: core.ColumnType{Base: core.IntType}}); err != nil {
		t.Fatalf("Expected INT to INT to be allowed: %v", err)
	}
	row, err := tableOp.Insert([]core.Literal{{Text: "y", Quoted: true}}, []string{"v"})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if row[0] != core.IntValue(2) {
		t.Errorf("Expected counter to continue at 2, got %v", row[0])
	}
}

func TestDropTable(t *testing.T) {
	_, dbOp := setupTestDatabase(t)
	mustTable(t, dbOp, "t", "a INT")

	if dropped, err := dbOp.DropTable("t", false); err != nil || !dropped {
		t.Errorf("Expected drop, got %v, %v", dropped, err)
	}
	if _, err := dbOp.GetTable("t"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if dropped, err := dbOp.DropTable("t", true); err != nil || dropped {
		t.Errorf("Expected skipped drop, got %v, %v", dropped, err)
	}
}
