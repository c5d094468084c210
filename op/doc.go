// Package op provides the operations that read and mutate the QuailDB
// registry: database and table lifecycle, row writes with type conversion
// and key enforcement, and schema changes.
//
// # DatabaseOp
//
//	dbOp, err := op.CreateDatabase("shop", registry)
//	tableOp, err := dbOp.CreateTable("users", schema)
//	names := dbOp.TableNames()
//
// # TableOp
//
//	row, err := tableOp.Insert(values, nil)
//	columns, rows, err := tableOp.Select(nil, op.MatchAll)
//	n, err := tableOp.Update(assignments, predicate)
//	n := tableOp.Delete(predicate)
//
// Every operation either applies completely or leaves the registry as it
// was and returns a *core.Error.
//
// # Architecture
//
//	SQL Parser (sql/)
//	     ↓
//	SQL Engine (db/)
//	     ↓
//	Operations (op/)     ← This package
//	     ↓
//	Registry (core/)  ⇄  Snapshots (ps/)
package op
