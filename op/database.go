package op

import (
	"slices"

	"github.com/quailsql/QuailDB/core"
)

type DatabaseOp struct {
	Database *core.Database
	Registry *core.Registry
}

func CreateDatabase(name string, registry *core.Registry) (*DatabaseOp, error) {
	if _, exists := registry.Databases[name]; exists {
		return nil, core.Errorf(core.AlreadyExists, "Database %s already exists.", name)
	}

	database := core.NewDatabase(name)
	registry.Databases[name] = database

	return &DatabaseOp{
		Database: database,
		Registry: registry,
	}, nil
}

func GetDatabase(name string, registry *core.Registry) (*DatabaseOp, error) {
	database, exists := registry.Databases[name]
	if !exists {
		return nil, core.Errorf(core.NotFound, "Database %s does not exist.", name)
	}
	return &DatabaseOp{
		Database: database,
		Registry: registry,
	}, nil
}

// DropDatabase removes the named database. With ifExists a missing database
// is not an error; the boolean reports whether anything was removed.
func DropDatabase(name string, registry *core.Registry, ifExists bool) (bool, error) {
	if _, exists := registry.Databases[name]; !exists {
		if ifExists {
			return false, nil
		}
		return false, core.Errorf(core.NotFound, "Database %s does not exist.", name)
	}
	delete(registry.Databases, name)
	return true, nil
}

// ListDatabases returns the database names in sorted order.
func ListDatabases(registry *core.Registry) []string {
	return registry.DatabaseNames()
}

func (op *DatabaseOp) TableNames() []string {
	return op.Database.TableNames()
}

// CreateTable validates schema and adds the table. A rejected schema leaves
// the database untouched.
func (op *DatabaseOp) CreateTable(name string, schema core.Schema) (*TableOp, error) {
	if _, exists := op.Database.Tables[name]; exists {
		return nil, core.Errorf(core.AlreadyExists, "Table %s already exists.", name)
	}

	table, err := buildTable(name, schema)
	if err != nil {
		return nil, err
	}

	op.Database.Tables[name] = table
	return &TableOp{Table: table}, nil
}

func buildTable(name string, schema core.Schema) (*core.Table, error) {
	table := core.NewTable(name)

	var (
		inlineKeys []string
		autoColumn string
		autoCount  int
	)
	for _, def := range schema.Columns {
		table.Columns = append(table.Columns, def.Name)
		table.Types[def.Name] = def.Type
		if def.Index != core.NoIndex {
			table.Indexes[def.Name] = def.Index
		}
		if def.Index == core.PrimaryKey {
			inlineKeys = append(inlineKeys, def.Name)
		}
		if def.AutoIncrement {
			autoColumn = def.Name
			autoCount++
		}
	}

	if autoCount > 1 {
		return nil, errIncorrectAutoColumn()
	}
	if len(inlineKeys) > 1 || schema.PrimaryKeyClauses > 1 {
		return nil, errMultiplePrimaryKeys()
	}

	primaryKey := slices.Clone(inlineKeys)
	for _, c := range schema.PrimaryKey {
		if !table.HasColumn(c) {
			return nil, core.Errorf(core.NotFound, "Key column '%s' doesn't exist in table", c)
		}
		if !slices.Contains(primaryKey, c) {
			primaryKey = append(primaryKey, c)
		}
	}

	if autoCount == 1 {
		if table.TypeOf(autoColumn).Base != core.IntType {
			return nil, core.Errorf(core.ConstraintViolation, "Incorrect column specifier for column '%s'", autoColumn)
		}
		if _, indexed := table.Indexes[autoColumn]; !indexed && !slices.Contains(primaryKey, autoColumn) {
			// an unindexed auto column becomes the primary key when the
			// table declares none
			if len(primaryKey) > 0 {
				return nil, errIncorrectAutoColumn()
			}
			primaryKey = []string{autoColumn}
		}
		table.AutoIncrement[autoColumn] = 0
	}

	for _, c := range primaryKey {
		table.Indexes[c] = core.PrimaryKey
	}
	table.PrimaryKey = primaryKey

	return table, nil
}

func (op *DatabaseOp) GetTable(name string) (*TableOp, error) {
	table, exists := op.Database.Tables[name]
	if !exists {
		return nil, core.Errorf(core.NotFound, "Table %s does not exist.", name)
	}
	return &TableOp{Table: table}, nil
}

// DropTable removes the named table. With ifExists a missing table is not an
// error; the boolean reports whether anything was removed.
func (op *DatabaseOp) DropTable(name string, ifExists bool) (bool, error) {
	if _, exists := op.Database.Tables[name]; !exists {
		if ifExists {
			return false, nil
		}
		return false, core.Errorf(core.NotFound, "Table %s does not exist.", name)
	}
	delete(op.Database.Tables, name)
	return true, nil
}

func errIncorrectAutoColumn() error {
	return core.Errorf(core.ConstraintViolation, "Incorrect table definition; there can be only one auto column and it must be defined as a key")
}

func errMultiplePrimaryKeys() error {
	return core.Errorf(core.ConstraintViolation, "Multiple PRIMARY KEY definitions. A table can have only one primary key.")
}
