// Package db provides the SQL execution engine for QuailDB.
//
// The Engine type is the main entry point for executing SQL statements.
// It parses SQL, applies it to a registry of databases, and returns results.
//
// # Engine Usage
//
//	engine := db.NewEngine(registry, db.WithLogger(logger))
//	result, err := engine.Execute("SELECT * FROM shop.users WHERE id IN (SELECT id FROM shop.admins)")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result.Display()
//
// Batches never stop at the first failure:
//
//	for _, outcome := range engine.ExecuteScript(script) {
//	    fmt.Println(outcome) // success text or "Error: ..."
//	}
//
// # Result Types
//
// There are two result types:
//   - QueryResult: Returned by SELECT, SHOW and DESCRIBE
//   - CommitResult: Returned by INSERT, UPDATE, DELETE, CREATE, DROP, ALTER and USE
//
// Failures are *core.Error values carrying a core.ErrorKind.
//
// # Observers
//
// Observers registered with Engine.Observe receive an Event after every
// statement. The change feed and metrics packages are built on them.
package db
