package ps

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/quailsql/QuailDB/core"
)

// Snapshot tags the snapshot asof, or the latest one when asof is nil.
func (persistence *Persistence) Snapshot(name string, asof *Transaction) error {
	if err := persistence.ensureInitialized(); err != nil {
		return err
	}

	persistence.mu.Lock()
	defer persistence.mu.Unlock()

	var target plumbing.Hash
	if asof != nil {
		target = plumbing.NewHash(asof.Id)
	} else {
		headRef, err := persistence.repo.Head()
		if err != nil {
			return ErrNoSnapshots
		}
		target = headRef.Hash()
	}

	_, err := persistence.repo.CreateTag(name, target, nil)
	return err
}

// Snapshots returns the tag names in sorted order.
func (persistence *Persistence) Snapshots() ([]string, error) {
	if err := persistence.ensureInitialized(); err != nil {
		return nil, err
	}

	persistence.mu.RLock()
	defer persistence.mu.RUnlock()

	tags, err := persistence.repo.Tags()
	if err != nil {
		return nil, err
	}
	defer tags.Close()

	var names []string
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	sort.Strings(names)
	return names, err
}

// Recover replaces the registry contents with the tagged snapshot.
func (persistence *Persistence) Recover(registry *core.Registry, name string) error {
	if err := persistence.ensureInitialized(); err != nil {
		return err
	}

	persistence.mu.RLock()
	ref, err := persistence.repo.Tag(name)
	persistence.mu.RUnlock()
	if errors.Is(err, git.ErrTagNotFound) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return err
	}

	return persistence.Restore(registry, Transaction{Id: ref.Hash().String()}, nil, nil)
}

// Restore rewinds the registry to the snapshot asof. With database set only
// that database is rewound; with table set as well only that table. Things
// that did not exist at asof are removed.
func (persistence *Persistence) Restore(registry *core.Registry, asof Transaction, database *string, table *string) error {
	saved, err := persistence.LoadAt(asof)
	if err != nil {
		return err
	}

	switch {
	case database == nil:
		registry.Replace(saved)

	case table == nil:
		if d, ok := saved.Databases[*database]; ok {
			registry.Databases[*database] = d
		} else {
			delete(registry.Databases, *database)
		}

	default:
		current, ok := registry.Databases[*database]
		if !ok {
			current = core.NewDatabase(*database)
			registry.Databases[*database] = current
		}
		var savedTable *core.Table
		if d, ok := saved.Databases[*database]; ok {
			savedTable = d.Tables[*table]
		}
		if savedTable != nil {
			current.Tables[*table] = savedTable
		} else {
			delete(current.Tables, *table)
		}
	}

	return nil
}
