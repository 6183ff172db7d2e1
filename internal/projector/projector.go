// Package projector turns row-level replication events into document
// mutations. A dispatcher routes each event by source table to a
// projection descriptor (see tables.go); the descriptor drives one of
// three shared paths: the master table patches the wide document's
// scalar fields, satellite tables upsert entries of its nested arrays,
// and the two side tables maintain standalone documents in their own
// indexes.
package projector

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wideorder/widesync/internal/normalize"
)

// Action is the row mutation kind carried by a replication event.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is one row-level mutation. Updates carry the after image, deletes
// the last known image.
type Event struct {
	Schema string
	Table  string
	Action Action
	Row    map[string]interface{}
}

// Executor applies document mutations. *estore.Store is the production
// implementation; tests substitute a recorder.
type Executor interface {
	// UpsertPrimary merges scalar header fields into the wide document,
	// creating it when absent. Nested arrays are never touched.
	UpsertPrimary(ctx context.Context, id string, patch map[string]interface{}) error
	// DeletePrimary removes the wide document; absent documents count as
	// deleted.
	DeletePrimary(ctx context.Context, id string) error
	// UpsertNested replaces-or-appends one entry of the named nested
	// array, creating the parent document when absent.
	UpsertNested(ctx context.Context, parentID, field string, entry map[string]interface{}) error
	// DeleteNested removes the entry with the given id from the named
	// nested array; an absent parent counts as deleted.
	DeleteNested(ctx context.Context, parentID, field, entryID string) error
	// IndexSide stores a standalone document in a side index.
	IndexSide(ctx context.Context, index, id string, doc map[string]interface{}) error
	// DeleteSide removes a standalone document; absent counts as deleted.
	DeleteSide(ctx context.Context, index, id string) error
}

// Dispatcher routes events to the registered projection descriptors.
type Dispatcher struct {
	exec   Executor
	tables map[string]*Table
}

// NewDispatcher returns a dispatcher over the built-in projection
// registry.
func NewDispatcher(exec Executor) *Dispatcher {
	return &Dispatcher{exec: exec, tables: Tables()}
}

// Dispatch projects one event. Events for unregistered tables are logged
// at warning level and ignored. Any returned error concerns only this
// event; callers are expected to log it and keep consuming.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	t, ok := d.tables[ev.Table]
	if !ok {
		log.WithFields(log.Fields{
			"schema": ev.Schema,
			"table":  ev.Table,
		}).Warn("no projector registered for table")
		return nil
	}

	row := normalize.Row(ev.Row)
	switch t.Kind {
	case KindMaster:
		return d.master(ctx, t, ev.Action, row)
	case KindNested:
		return d.nested(ctx, t, ev.Action, row)
	case KindSide:
		return d.side(ctx, t, ev.Action, row)
	default:
		return errors.Errorf("table %s: unknown projection kind %d", t.Name, t.Kind)
	}
}

func (d *Dispatcher) master(ctx context.Context, t *Table, action Action, row map[string]interface{}) error {
	id := stringify(row[t.Parent])
	if id == "" {
		return errors.Errorf("%s row has no %s", t.Name, t.Parent)
	}
	switch action {
	case ActionInsert, ActionUpdate:
		return d.exec.UpsertPrimary(ctx, id, t.pick(row))
	case ActionDelete:
		return d.exec.DeletePrimary(ctx, id)
	default:
		logSkippedAction(t.Name, action)
		return nil
	}
}

func (d *Dispatcher) nested(ctx context.Context, t *Table, action Action, row map[string]interface{}) error {
	parentID := stringify(row[t.Parent])
	entryID := stringify(row["Id"])
	if parentID == "" || entryID == "" {
		return errors.Errorf("%s row is missing Id or %s", t.Name, t.Parent)
	}
	switch action {
	case ActionInsert, ActionUpdate:
		entry := t.pick(row)
		entry["Id"] = entryID
		entry["WorkOrderId"] = parentID
		return d.exec.UpsertNested(ctx, parentID, t.Field, entry)
	case ActionDelete:
		return d.exec.DeleteNested(ctx, parentID, t.Field, entryID)
	default:
		logSkippedAction(t.Name, action)
		return nil
	}
}

func (d *Dispatcher) side(ctx context.Context, t *Table, action Action, row map[string]interface{}) error {
	id := stringify(row[t.Parent])
	if id == "" {
		return errors.Errorf("%s row has no %s", t.Name, t.Parent)
	}
	switch action {
	case ActionInsert, ActionUpdate:
		return d.exec.IndexSide(ctx, t.Index, id, t.pick(row))
	case ActionDelete:
		return d.exec.DeleteSide(ctx, t.Index, id)
	default:
		logSkippedAction(t.Name, action)
		return nil
	}
}

// pick copies the whitelisted columns out of a normalized row. Columns
// absent from the row image land as nulls so that replacing an entry
// always produces the same shape.
func (t *Table) pick(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(t.Columns)+2)
	for _, col := range t.Columns {
		out[col] = row[col]
	}
	for _, col := range t.Strings {
		if v, ok := out[col]; ok && v != nil {
			out[col] = stringify(v)
		}
	}
	return out
}

func logSkippedAction(table string, action Action) {
	log.WithFields(log.Fields{
		"table":  table,
		"action": string(action),
	}).Warn("unsupported action, event skipped")
}

// stringify renders a document id. Normalized values are never []byte, so
// ids arrive as strings or integers.
func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
