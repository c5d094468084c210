// Package main builds the QuailDB C shared library used by the language
// bindings. Every call answers with the same JSON envelope as the TCP server.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/quailsql/QuailDB"
	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/db"
	"github.com/quailsql/QuailDB/ps"
)

var bindingIdentity = core.Identity{
	Name:  "QuailDB Python",
	Email: "python@quaildb.local",
}

var errInvalidHandle = errors.New("Invalid handle")

// Handle represents an open database instance.
type Handle struct {
	instance *QuailDB.Instance
	engine   *db.Engine
}

// handleTable hands out integer handles for open instances.
type handleTable struct {
	mu      sync.Mutex
	handles map[int]*Handle
	next    int
}

var handles = newHandleTable()

func newHandleTable() *handleTable {
	return &handleTable{handles: make(map[int]*Handle), next: 1}
}

func (t *handleTable) add(h *Handle) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.next
	t.next++
	t.handles[id] = h
	return id
}

func (t *handleTable) get(id int) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	return h, ok
}

func (t *handleTable) remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.handles, id)
}

// Response mirrors the server protocol for consistency
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Type    string          `json:"type,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type QueryResponse struct {
	Columns         []string   `json:"columns"`
	Data            [][]string `json:"data"`
	RecordsRead     int        `json:"records_read"`
	ExecutionTimeMs float64    `json:"execution_time_ms"`
	ExecutionOps    int        `json:"execution_ops"`
}

type CommitResponse struct {
	Message          string  `json:"message,omitempty"`
	DatabasesCreated int     `json:"databases_created,omitempty"`
	DatabasesDeleted int     `json:"databases_deleted,omitempty"`
	TablesCreated    int     `json:"tables_created,omitempty"`
	TablesDeleted    int     `json:"tables_deleted,omitempty"`
	TablesAltered    int     `json:"tables_altered,omitempty"`
	RecordsWritten   int     `json:"records_written,omitempty"`
	RecordsDeleted   int     `json:"records_deleted,omitempty"`
	ExecutionTimeMs  float64 `json:"execution_time_ms"`
	ExecutionOps     int     `json:"execution_ops"`
}

// SaveResponse describes the snapshot written by save.
type SaveResponse struct {
	Transaction string `json:"transaction"`
	Author      string `json:"author"`
	Message     string `json:"message"`
}

// openMemory opens an instance that is never written to disk.
func openMemory() (int, error) {
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		return -1, err
	}
	return open(persistence)
}

// openFile opens an instance over the snapshot repository at path, loading
// the latest snapshot when there is one.
func openFile(path string) (int, error) {
	persistence, err := ps.NewFilePersistence(path, nil)
	if err != nil {
		return -1, err
	}
	return open(persistence)
}

func open(persistence ps.Persistence) (int, error) {
	instance := QuailDB.Open(&persistence)
	if err := instance.Load(); err != nil {
		return -1, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return handles.add(&Handle{
		instance: instance,
		engine:   instance.Engine(),
	}), nil
}

func closeHandle(id int) {
	handles.remove(id)
}

// execute runs one statement against the handle and returns the JSON
// response.
func execute(id int, query string) []byte {
	h, ok := handles.get(id)
	if !ok {
		return encode(errorResponse("", errInvalidHandle))
	}

	result, err := h.engine.Execute(query)
	if err != nil {
		return encode(errorResponse("", err))
	}

	switch r := result.(type) {
	case db.QueryResult:
		data, _ := json.Marshal(QueryResponse{
			Columns:         r.Columns,
			Data:            r.Data,
			RecordsRead:     r.RecordsRead,
			ExecutionTimeMs: r.ExecutionTimeSec * 1000,
			ExecutionOps:    r.ExecutionOps,
		})
		return encode(Response{Success: true, Type: "query", Result: data})

	case db.CommitResult:
		data, _ := json.Marshal(CommitResponse{
			Message:          r.Message,
			DatabasesCreated: r.DatabasesCreated,
			DatabasesDeleted: r.DatabasesDeleted,
			TablesCreated:    r.TablesCreated,
			TablesDeleted:    r.TablesDeleted,
			TablesAltered:    r.TablesAltered,
			RecordsWritten:   r.RecordsWritten,
			RecordsDeleted:   r.RecordsDeleted,
			ExecutionTimeMs:  r.ExecutionTimeSec * 1000,
			ExecutionOps:     r.ExecutionOps,
		})
		return encode(Response{Success: true, Type: "commit", Result: data})

	default:
		return encode(Response{Success: true, Type: "unknown"})
	}
}

// save commits the handle's registry as a snapshot.
func save(id int, message string) []byte {
	h, ok := handles.get(id)
	if !ok {
		return encode(errorResponse("save", errInvalidHandle))
	}

	if message == "" {
		message = "Save"
	}
	transaction, err := h.instance.Save(bindingIdentity, message)
	if err != nil {
		return encode(errorResponse("save", err))
	}

	data, _ := json.Marshal(SaveResponse{
		Transaction: transaction.Id,
		Author:      transaction.Author,
		Message:     transaction.Message,
	})
	return encode(Response{Success: true, Type: "save", Result: data})
}

func errorResponse(responseType string, err error) Response {
	return Response{
		Success: false,
		Type:    responseType,
		Error:   err.Error(),
		Kind:    core.KindOf(err).String(),
	}
}

func encode(resp Response) []byte {
	data, _ := json.Marshal(resp)
	return data
}

func main() {}
