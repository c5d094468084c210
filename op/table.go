package op

import (
	"slices"
	"strings"

	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/sql"
)

type TableOp struct {
	Table *core.Table
}

// Predicate selects rows for SELECT, UPDATE and DELETE.
type Predicate func(row core.Row) bool

// MatchAll selects every row.
func MatchAll(core.Row) bool { return true }

// Insert converts values, allocates the auto-increment value when needed and
// checks PRIMARY KEY and UNIQUE columns before appending the row. Nothing is
// changed when any step fails.
//
// Without columns, values are positional; when exactly one value is missing
// and the table has an auto-increment column, the values fill the other
// columns in order. With columns, unnamed columns are NULL.
func (op *TableOp) Insert(values []core.Literal, columns []string) (core.Row, error) {
	table := op.Table
	literals := make([]core.Literal, len(table.Columns))
	given := make([]bool, len(table.Columns))

	autoColumn, hasAuto := table.AutoIncrementColumn()

	switch {
	case columns != nil:
		for _, c := range columns {
			if !table.HasColumn(c) {
				return nil, errUnknownColumn(c)
			}
		}
		if len(values) != len(columns) {
			return nil, core.ErrArityMismatch
		}
		for i, c := range columns {
			idx := table.ColumnIndex(c)
			literals[idx] = values[i]
			given[idx] = true
		}
	case len(values) == len(table.Columns):
		copy(literals, values)
		for i := range given {
			given[i] = true
		}
	case hasAuto && len(values) == len(table.Columns)-1:
		next := 0
		for i, c := range table.Columns {
			if c == autoColumn {
				continue
			}
			literals[i] = values[next]
			given[i] = true
			next++
		}
	default:
		return nil, core.ErrArityMismatch
	}

	row := make(core.Row, len(table.Columns))
	for i, c := range table.Columns {
		if !given[i] {
			row[i] = core.Null()
			continue
		}
		value, err := core.ConvertLiteral(literals[i], table.TypeOf(c))
		if err != nil {
			return nil, err
		}
		row[i] = value
	}

	counter := int64(0)
	if hasAuto {
		idx := table.ColumnIndex(autoColumn)
		counter = table.AutoIncrement[autoColumn]
		if row[idx].IsNull() {
			counter++
			row[idx] = core.IntValue(counter)
		} else if row[idx].Kind == core.IntKind && row[idx].Int > counter {
			counter = row[idx].Int
		}
	}

	if err := checkUnique(table, table.Rows, row, -1); err != nil {
		return nil, err
	}

	table.Rows = append(table.Rows, row)
	if hasAuto {
		table.AutoIncrement[autoColumn] = counter
	}
	return row, nil
}

// Select returns the named columns of every matching row. Nil columns select
// all columns in table order.
func (op *TableOp) Select(columns []string, match Predicate) ([]string, []core.Row, error) {
	table := op.Table
	if columns == nil {
		columns = slices.Clone(table.Columns)
	}

	indexes := make([]int, len(columns))
	for i, c := range columns {
		indexes[i] = table.ColumnIndex(c)
		if indexes[i] < 0 {
			return nil, nil, errUnknownColumn(c)
		}
	}

	rows := []core.Row{}
	for _, row := range table.Rows {
		if !match(row) {
			continue
		}
		projected := make(core.Row, len(indexes))
		for i, idx := range indexes {
			projected[i] = row[idx]
		}
		rows = append(rows, projected)
	}
	return columns, rows, nil
}

// Update applies assignments to every matching row. Values are converted
// and keys re-checked against the updated table before anything is changed.
func (op *TableOp) Update(assignments []sql.Assignment, match Predicate) (int, error) {
	table := op.Table

	type change struct {
		index int
		value core.Value
	}
	changes := make([]change, 0, len(assignments))
	for _, assignment := range assignments {
		idx := table.ColumnIndex(assignment.Column)
		if idx < 0 {
			return 0, errUnknownColumn(assignment.Column)
		}
		value, err := core.ConvertLiteral(assignment.Value, table.TypeOf(assignment.Column))
		if err != nil {
			return 0, err
		}
		changes = append(changes, change{index: idx, value: value})
	}

	rows := slices.Clone(table.Rows)
	var updated []int
	for i, row := range rows {
		if !match(row) {
			continue
		}
		next := slices.Clone(row)
		for _, c := range changes {
			next[c.index] = c.value
		}
		rows[i] = next
		updated = append(updated, i)
	}

	for _, i := range updated {
		if err := checkUnique(table, rows, rows[i], i); err != nil {
			return 0, err
		}
	}

	table.Rows = rows
	if autoColumn, ok := table.AutoIncrementColumn(); ok {
		idx := table.ColumnIndex(autoColumn)
		for _, i := range updated {
			if v := rows[i][idx]; v.Kind == core.IntKind && v.Int > table.AutoIncrement[autoColumn] {
				table.AutoIncrement[autoColumn] = v.Int
			}
		}
	}
	return len(updated), nil
}

// Delete removes every matching row and returns how many were removed.
func (op *TableOp) Delete(match Predicate) int {
	kept := op.Table.Rows[:0:0]
	for _, row := range op.Table.Rows {
		if !match(row) {
			kept = append(kept, row)
		}
	}
	deleted := len(op.Table.Rows) - len(kept)
	op.Table.Rows = kept
	return deleted
}

// AddColumn appends a column; existing rows get NULL in it.
func (op *TableOp) AddColumn(def core.ColumnDef) error {
	table := op.Table
	if table.HasColumn(def.Name) {
		return core.Errorf(core.AlreadyExists, "Duplicate column name '%s'", def.Name)
	}

	index := def.Index
	addsKey := index == core.PrimaryKey
	if def.AutoIncrement {
		if _, exists := table.AutoIncrementColumn(); exists {
			return errIncorrectAutoColumn()
		}
		if def.Type.Base != core.IntType {
			return core.Errorf(core.ConstraintViolation, "Incorrect column specifier for column '%s'", def.Name)
		}
		if index == core.NoIndex {
			if len(table.PrimaryKey) > 0 {
				return errIncorrectAutoColumn()
			}
			index = core.PrimaryKey
			addsKey = true
		}
	}
	if addsKey && len(table.PrimaryKey) > 0 {
		return errMultiplePrimaryKeys()
	}

	table.Columns = append(table.Columns, def.Name)
	table.Types[def.Name] = def.Type
	if index != core.NoIndex {
		table.Indexes[def.Name] = index
	}
	if addsKey {
		table.PrimaryKey = []string{def.Name}
	}
	if def.AutoIncrement {
		table.AutoIncrement[def.Name] = 0
	}
	for i := range table.Rows {
		table.Rows[i] = append(table.Rows[i], core.Null())
	}
	return nil
}

// DropColumn removes a column from the schema, the keys and every row.
func (op *TableOp) DropColumn(name string) error {
	table := op.Table
	idx := table.ColumnIndex(name)
	if idx < 0 {
		return core.Errorf(core.NotFound, "Can't DROP '%s'; check that column/key exists", name)
	}
	if len(table.Columns) == 1 {
		return core.Errorf(core.ConstraintViolation, "You can't delete all columns with ALTER TABLE; use DROP TABLE instead")
	}

	table.Columns = slices.Delete(table.Columns, idx, idx+1)
	delete(table.Types, name)
	delete(table.AutoIncrement, name)
	delete(table.Indexes, name)
	if i := slices.Index(table.PrimaryKey, name); i >= 0 {
		table.PrimaryKey = slices.Delete(table.PrimaryKey, i, i+1)
	}
	for i, row := range table.Rows {
		table.Rows[i] = slices.Delete(slices.Clone(row), idx, idx+1)
	}
	return nil
}

// ModifyColumn replaces the declared type of a column. Stored values are
// kept as they are. An AUTO_INCREMENT column must stay INT.
func (op *TableOp) ModifyColumn(def core.ColumnDef) error {
	if !op.Table.HasColumn(def.Name) {
		return core.Errorf(core.NotFound, "Unknown column '%s' in '%s'", def.Name, op.Table.Name)
	}
	if _, auto := op.Table.AutoIncrement[def.Name]; auto && def.Type.Base != core.IntType {
		return core.Errorf(core.ConstraintViolation, "Incorrect column specifier for column '%s'", def.Name)
	}
	op.Table.Types[def.Name] = def.Type
	return nil
}

// Describe returns the column definitions in table order.
func (op *TableOp) Describe() []core.ColumnDef {
	return op.Table.ColumnDefs()
}

// checkUnique reports the first PRIMARY KEY or UNIQUE collision between
// candidate and rows, ignoring rows[skip]. NULLs never collide; a composite
// primary key compares the whole tuple.
func checkUnique(table *core.Table, rows []core.Row, candidate core.Row, skip int) error {
	composite := len(table.PrimaryKey) > 1

	for i, c := range table.Columns {
		kind := table.Indexes[c]
		if !kind.Enforced() || (composite && kind == core.PrimaryKey) {
			continue
		}
		value := candidate[i]
		if value.IsNull() {
			continue
		}
		for r, row := range rows {
			if r != skip && row[i].Equal(value) {
				return errDuplicate(value.String(), keyName(kind, c))
			}
		}
	}

	if !composite {
		return nil
	}

	indexes := make([]int, len(table.PrimaryKey))
	parts := make([]string, len(table.PrimaryKey))
	for k, c := range table.PrimaryKey {
		indexes[k] = table.ColumnIndex(c)
		if candidate[indexes[k]].IsNull() {
			return nil
		}
		parts[k] = candidate[indexes[k]].String()
	}
	for r, row := range rows {
		if r == skip {
			continue
		}
		same := true
		for _, idx := range indexes {
			if !row[idx].Equal(candidate[idx]) {
				same = false
				break
			}
		}
		if same {
			return errDuplicate(strings.Join(parts, "-"), string(core.PrimaryKey))
		}
	}
	return nil
}

func keyName(kind core.IndexKind, column string) string {
	if kind == core.PrimaryKey {
		return string(core.PrimaryKey)
	}
	return column
}

func errDuplicate(value, key string) error {
	return core.Errorf(core.ConstraintViolation, "Duplicate entry '%s' for key '%s'", value, key)
}

func errUnknownColumn(column string) error {
	return core.Errorf(core.NotFound, "Unknown column '%s' in field list", column)
}
