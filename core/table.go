package core

import (
	"encoding/json"
	"sort"
)

type Table struct {
	Name          string
	Columns       []string
	Types         map[string]ColumnType
	Rows          []Row
	AutoIncrement map[string]int64
	Indexes       map[string]IndexKind
	PrimaryKey    []string
}

func NewTable(name string) *Table {
	return &Table{
		Name:          name,
		Columns:       []string{},
		Types:         make(map[string]ColumnType),
		Rows:          []Row{},
		AutoIncrement: make(map[string]int64),
		Indexes:       make(map[string]IndexKind),
	}
}

// ColumnIndex returns the position of column in Columns, or -1.
func (t *Table) ColumnIndex(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

func (t *Table) HasColumn(column string) bool {
	return t.ColumnIndex(column) >= 0
}

// TypeOf returns the declared type of column, defaulting to TEXT.
func (t *Table) TypeOf(column string) ColumnType {
	if typ, ok := t.Types[column]; ok {
		return typ
	}
	return DefaultColumnType
}

// AutoIncrementColumn returns the table's auto-increment column, if any.
func (t *Table) AutoIncrementColumn() (string, bool) {
	for _, c := range t.Columns {
		if _, ok := t.AutoIncrement[c]; ok {
			return c, true
		}
	}
	return "", false
}

// Value returns the cell of row for column.
func (t *Table) Value(row Row, column string) (Value, bool) {
	i := t.ColumnIndex(column)
	if i < 0 || i >= len(row) {
		return Null(), false
	}
	return row[i], true
}

// ColumnDefs reconstructs the column definitions of the table in order.
func (t *Table) ColumnDefs() []ColumnDef {
	defs := make([]ColumnDef, 0, len(t.Columns))
	for _, c := range t.Columns {
		_, auto := t.AutoIncrement[c]
		defs = append(defs, ColumnDef{
			Name:          c,
			Type:          t.TypeOf(c),
			AutoIncrement: auto,
			Index:         t.Indexes[c],
		})
	}
	return defs
}

type tableJSON struct {
	Columns       []string              `json:"columns"`
	Types         map[string]ColumnType `json:"types"`
	Rows          []map[string]Value    `json:"rows"`
	AutoIncrement map[string]int64      `json:"auto_increment"`
	Indexes       map[string]IndexKind  `json:"indexes"`
	PrimaryKey    []string              `json:"primary_key,omitempty"`
}

// MarshalJSON writes rows as column to value objects, the registry shape read
// by snapshots and exports.
func (t *Table) MarshalJSON() ([]byte, error) {
	out := tableJSON{
		Columns:       t.Columns,
		Types:         t.Types,
		Rows:          make([]map[string]Value, 0, len(t.Rows)),
		AutoIncrement: t.AutoIncrement,
		Indexes:       t.Indexes,
		PrimaryKey:    t.PrimaryKey,
	}
	for _, row := range t.Rows {
		record := make(map[string]Value, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(row) {
				record[c] = row[i]
			}
		}
		out.Rows = append(out.Rows, record)
	}
	return json.Marshal(out)
}

func (t *Table) UnmarshalJSON(data []byte) error {
	var in tableJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	name := t.Name
	*t = *NewTable(name)
	t.Columns = append(t.Columns, in.Columns...)
	for c, typ := range in.Types {
		t.Types[c] = typ
	}
	for c, n := range in.AutoIncrement {
		t.AutoIncrement[c] = n
	}
	for c, kind := range in.Indexes {
		t.Indexes[c] = kind
	}

	t.PrimaryKey = in.PrimaryKey
	if len(t.PrimaryKey) == 0 {
		for _, c := range t.Columns {
			if t.Indexes[c] == PrimaryKey {
				t.PrimaryKey = append(t.PrimaryKey, c)
			}
		}
	}

	for _, record := range in.Rows {
		row := make(Row, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = record[c]
		}
		t.Rows = append(t.Rows, row)
	}
	return nil
}

type Database struct {
	Name   string
	Tables map[string]*Table
}

func NewDatabase(name string) *Database {
	return &Database{
		Name:   name,
		Tables: make(map[string]*Table),
	}
}

// TableNames returns the table names in sorted order.
func (d *Database) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Database) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Tables)
}

func (d *Database) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Tables = make(map[string]*Table, len(raw))
	for name, body := range raw {
		table := &Table{Name: name}
		if err := json.Unmarshal(body, table); err != nil {
			return err
		}
		d.Tables[name] = table
	}
	return nil
}

// Registry is the root of the data model: database name to Database.
type Registry struct {
	Databases map[string]*Database
}

func NewRegistry() *Registry {
	return &Registry{Databases: make(map[string]*Database)}
}

// DatabaseNames returns the database names in sorted order.
func (r *Registry) DatabaseNames() []string {
	names := make([]string, 0, len(r.Databases))
	for name := range r.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Databases)
}

func (r *Registry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Databases = make(map[string]*Database, len(raw))
	for name, body := range raw {
		database := NewDatabase(name)
		if err := json.Unmarshal(body, database); err != nil {
			return err
		}
		r.Databases[name] = database
	}
	return nil
}

// Replace swaps the registry contents for other's, keeping the pointer stable
// for engines that hold it.
func (r *Registry) Replace(other *Registry) {
	r.Databases = other.Databases
	if r.Databases == nil {
		r.Databases = make(map[string]*Database)
	}
}
