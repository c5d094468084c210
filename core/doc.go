// Package core provides the in-memory data model shared by every QuailDB package.
//
// The package defines the database registry, databases, tables, typed values
// and the error taxonomy returned by the engine.
//
// # Registry
//
// A Registry maps database names to databases, and each Database maps table
// names to tables:
//
//	registry := core.NewRegistry()
//	registry.Databases["shop"] = core.NewDatabase("shop")
//
// # Column Types
//
// Supported base types:
//   - TEXT, CHAR, VARCHAR: text, with an optional display size
//   - INT: 64-bit integers
//   - FLOAT: 64-bit floating point numbers
//   - BOOL: booleans (1/true/yes/on and 0/false/no/off)
//
// # Values
//
// Rows are fixed-width slices of Value, parallel to Table.Columns. A Value is
// a tagged variant holding NULL, text, an integer, a float or a boolean:
//
//	v, err := core.Convert("42", core.ColumnType{Base: core.IntType})
//	fmt.Println(v) // 42
//
// # Errors
//
// Engine failures are *core.Error values carrying an ErrorKind. Use errors.Is
// with the sentinel errors (ErrNotFound, ErrConstraintViolation, ...) or
// KindOf to branch on the kind.
package core
