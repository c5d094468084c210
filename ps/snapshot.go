package ps

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/quailsql/QuailDB/core"
)

// Snapshot layout inside the repository tree:
//
//	<database>/database.json
//	<database>/tables/<table>.json
//
// database.json keeps empty databases alive, since git has no empty trees.
const (
	databaseFile = "database.json"
	tablesDir    = "tables"
)

type databaseManifest struct {
	Name   string   `json:"name"`
	Tables []string `json:"tables"`
}

func tablePath(database, table string) string {
	return path.Join(database, tablesDir, table+".json")
}

// snapshotFiles renders the registry as repository files.
func snapshotFiles(registry *core.Registry) (map[string][]byte, error) {
	files := make(map[string][]byte)
	for _, name := range registry.DatabaseNames() {
		database := registry.Databases[name]

		manifest, err := json.MarshalIndent(databaseManifest{Name: name, Tables: database.TableNames()}, "", "  ")
		if err != nil {
			return nil, err
		}
		files[path.Join(name, databaseFile)] = manifest

		for _, tableName := range database.TableNames() {
			data, err := json.MarshalIndent(database.Tables[tableName], "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to encode table %s.%s: %w", name, tableName, err)
			}
			files[tablePath(name, tableName)] = data
		}
	}
	return files, nil
}

// Save commits the registry as a new snapshot. Files that did not change
// keep their blobs. Saving an unchanged registry returns the latest
// transaction with ErrNoChanges.
func (p *Persistence) Save(registry *core.Registry, identity core.Identity, message string) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	files, err := snapshotFiles(registry)
	if err != nil {
		return Transaction{}, err
	}

	currentTree, err := p.getCurrentTree()
	if err != nil {
		return Transaction{}, err
	}
	existing, err := p.listFiles(currentTree)
	if err != nil {
		return Transaction{}, err
	}

	var changes []TreeChange
	for filePath := range existing {
		if _, ok := files[filePath]; !ok {
			changes = append(changes, TreeChange{Path: filePath, IsDelete: true})
		}
	}

	paths := make([]string, 0, len(files))
	for filePath := range files {
		paths = append(paths, filePath)
	}
	sort.Strings(paths)

	for _, filePath := range paths {
		blobHash, err := p.createBlob(files[filePath])
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to create blob for %s: %w", filePath, err)
		}
		if existing[filePath] == blobHash {
			continue
		}
		changes = append(changes, TreeChange{Path: filePath, BlobHash: blobHash})
	}

	_, headErr := p.repo.Head()
	if len(changes) == 0 && headErr == nil {
		return p.latestTransaction(), ErrNoChanges
	}

	newTree, err := p.batchUpdateTree(currentTree, changes)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to update tree: %w", err)
	}

	if message == "" {
		message = fmt.Sprintf("Snapshot of %d database(s)", len(registry.Databases))
	}

	txn, err := p.createCommitDirect(newTree, identity, message)
	if err != nil {
		return Transaction{}, err
	}

	if err := p.syncWorktree(); err != nil {
		return txn, fmt.Errorf("failed to sync worktree: %w", err)
	}

	return txn, nil
}

// Load reads the registry from the latest snapshot. A repository without
// snapshots loads as an empty registry.
func (p *Persistence) Load() (*core.Registry, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	treeHash, err := p.getCurrentTree()
	if err != nil {
		return nil, err
	}
	return p.readRegistry(treeHash)
}

// LoadAt reads the registry as it was saved by the given transaction.
func (p *Persistence) LoadAt(asof Transaction) (*core.Registry, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	commit, err := p.repo.CommitObject(plumbing.NewHash(asof.Id))
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", asof.Id, err)
	}
	return p.readRegistry(commit.TreeHash)
}

func (p *Persistence) readRegistry(treeHash plumbing.Hash) (*core.Registry, error) {
	registry := core.NewRegistry()
	if treeHash == plumbing.ZeroHash {
		return registry, nil
	}

	root, err := object.GetTree(p.repo.Storer, treeHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	for _, entry := range root.Entries {
		if entry.Mode != filemode.Dir {
			continue
		}

		dbTree, err := root.Tree(entry.Name)
		if err != nil {
			return nil, err
		}
		database, err := readDatabase(entry.Name, dbTree)
		if err != nil {
			return nil, err
		}
		registry.Databases[entry.Name] = database
	}

	return registry, nil
}

func readDatabase(name string, tree *object.Tree) (*core.Database, error) {
	database := core.NewDatabase(name)

	tables, err := tree.Tree(tablesDir)
	if errors.Is(err, object.ErrDirectoryNotFound) {
		return database, nil
	}
	if err != nil {
		return nil, err
	}

	for _, entry := range tables.Entries {
		tableName, ok := strings.CutSuffix(entry.Name, ".json")
		if !ok || entry.Mode == filemode.Dir {
			continue
		}

		file, err := tables.File(entry.Name)
		if err != nil {
			return nil, err
		}
		contents, err := file.Contents()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
		}

		table := &core.Table{Name: tableName}
		if err := json.Unmarshal([]byte(contents), table); err != nil {
			return nil, fmt.Errorf("failed to decode table %s.%s: %w", name, tableName, err)
		}
		database.Tables[tableName] = table
	}

	return database, nil
}
