// Package ps persists QuailDB registries as git history.
//
// Every Save writes the registry as one JSON file per table and commits it,
// so each snapshot is a Transaction that can be listed, tagged and restored.
//
// # Memory Persistence
//
// For testing or ephemeral databases:
//
//	persistence, err := ps.NewMemoryPersistence()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # File Persistence
//
// For persistent storage:
//
//	persistence, err := ps.NewFilePersistence("/path/to/data", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Snapshots
//
//	txn, _ := persistence.Save(registry, identity, "nightly")
//	_ = persistence.Snapshot("v1", &txn)
//	_ = persistence.Recover(registry, "v1")
package ps
