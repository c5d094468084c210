// Package sql provides SQL lexing and parsing for QuailDB.
//
// The package includes a lexer that tokenizes SQL strings, a parser that
// turns one command into one Statement, and helpers for the clause texts a
// statement carries: column definitions, SET assignments and WHERE
// conditions.
//
// # Parser Usage
//
//	statement := sql.NewParser("SELECT * FROM users WHERE id = 1").Parse()
//	if invalid, ok := statement.(sql.InvalidStatement); ok {
//	    log.Printf("cannot parse %q: %s", invalid.Text, invalid.Reason)
//	}
//
// Parse never fails. Text that matches no statement form produces an
// InvalidStatement.
//
// # Supported Statements
//
//   - CreateDatabaseStatement, DropDatabaseStatement, UseDatabaseStatement
//   - ShowDatabasesStatement, ShowTablesStatement, DescribeStatement
//   - CreateTableStatement, DropTableStatement, AlterTableStatement
//   - InsertStatement, SelectStatement, UpdateStatement, DeleteStatement
//
// # Conditions
//
//	condition, err := sql.ParseCondition("age > 30 AND name LIKE 'A%'")
//
// The first top-level AND splits a condition, then the first top-level OR.
// Parentheses group.
package sql
