package QuailDB

import (
	"errors"
	"log/slog"

	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/db"
	"github.com/quailsql/QuailDB/ps"
)

// Instance is one registry together with the persistence its snapshots are
// saved to. Engines created from an instance share its registry.
type Instance struct {
	Registry    *core.Registry
	Persistence *ps.Persistence
}

// Open returns an instance with an empty registry. A nil persistence keeps
// the instance in memory only; Save and Load then fail with
// ps.ErrNotInitialized.
func Open(persistence *ps.Persistence) *Instance {
	return &Instance{
		Registry:    core.NewRegistry(),
		Persistence: persistence,
	}
}

// Engine returns a new engine over the instance registry. Each engine keeps
// its own current database.
func (instance *Instance) Engine(opts ...db.Option) *db.Engine {
	return db.NewEngine(instance.Registry, opts...)
}

// Load replaces the registry contents with the latest snapshot.
func (instance *Instance) Load() error {
	registry, err := instance.Persistence.Load()
	if err != nil {
		return err
	}
	instance.Registry.Replace(registry)
	return nil
}

// Save commits the registry as a snapshot.
func (instance *Instance) Save(identity core.Identity, message string) (ps.Transaction, error) {
	return instance.Persistence.Save(instance.Registry, identity, message)
}

// AutoSave returns an observer that saves a snapshot after every statement
// that changed the registry, using the statement type as commit message.
func (instance *Instance) AutoSave(identity core.Identity, logger *slog.Logger) db.Observer {
	return db.ObserverFunc(func(event db.Event) {
		if !event.Mutated() {
			return
		}
		message := event.Type.String()
		if event.Database != "" {
			message += " " + event.Database
			if event.Table != "" {
				message += "." + event.Table
			}
		}
		if _, err := instance.Save(identity, message); err != nil && !errors.Is(err, ps.ErrNoChanges) && logger != nil {
			logger.Warn("auto save failed", "statement", event.Type.String(), "error", err)
		}
	})
}
