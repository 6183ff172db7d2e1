// Package backfill seeds the document store from the source SQL tables
// before tailing starts. Every historical row is synthesized as an
// update event and pushed through the same projection path as the live
// stream, so replaying history is idempotent by construction. The run
// ends by reading the source's current replication offset; the caller
// persists it and the tailer picks up from there.
package backfill

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wideorder/widesync/internal/projector"
)

// DefaultBatch is how many work-order ids one IN (...) select covers.
const DefaultBatch = 100

// ErrNoOrders means the configured time window matched no work orders.
// The run fails fast rather than silently seeding nothing.
var ErrNoOrders = errors.New("no work orders in the backfill window")

// timeLayout renders the window bounds for the BETWEEN predicate.
const timeLayout = "2006-01-02 15:04:05"

// The JSON satellite selects an explicit column list: the table carries
// large auxiliary blobs that the projection never reads.
var jsonTableColumns = []string{"Id", "WorkOrderId", "BussinessJson", "InsertTime", "Deleted"}

// Dispatcher consumes the synthesized events. *projector.Dispatcher is
// the production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev projector.Event) error
}

// Engine loads one historical window from the source database.
type Engine struct {
	db       *sql.DB
	dispatch Dispatcher
	schema   string
	batch    int
}

// New returns an engine over an open source connection. batch <= 0 uses
// DefaultBatch.
func New(db *sql.DB, dispatch Dispatcher, schema string, batch int) *Engine {
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Engine{db: db, dispatch: dispatch, schema: schema, batch: batch}
}

// Run loads all work orders created in [start, end] plus the full
// customer special config table, then returns the source's current
// replication offset for the checkpoint handoff.
func (e *Engine) Run(ctx context.Context, start, end time.Time) (mysql.Position, error) {
	ids, err := e.collectIDs(ctx, start, end)
	if err != nil {
		return mysql.Position{}, err
	}
	log.WithFields(log.Fields{
		"start":  start.Format(timeLayout),
		"end":    end.Format(timeLayout),
		"orders": len(ids),
	}).Info("backfill window collected")

	registry := projector.Tables()
	for _, name := range projector.TableNames() {
		t := registry[name]
		if t.Name == projector.CustConfigTable {
			continue // loaded in full below, not per work order
		}
		if err := e.loadTable(ctx, t, ids); err != nil {
			return mysql.Position{}, err
		}
	}
	if err := e.loadFullTable(ctx, projector.CustConfigTable); err != nil {
		return mysql.Position{}, err
	}

	pos, err := e.masterStatus(ctx)
	if err != nil {
		return mysql.Position{}, err
	}
	log.WithFields(log.Fields{"file": pos.Name, "pos": pos.Pos}).Info("backfill complete")
	return pos, nil
}

// collectIDs returns the work-order ids created inside the window.
func (e *Engine) collectIDs(ctx context.Context, start, end time.Time) ([]string, error) {
	const q = "SELECT Id FROM tb_workorderinfo WHERE CreatedAt BETWEEN ? AND ? ORDER BY Id"
	rows, err := e.db.QueryContext(ctx, q, start.Format(timeLayout), end.Format(timeLayout))
	if err != nil {
		return nil, errors.Wrap(err, "select work-order ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan work-order id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate work-order ids")
	}
	if len(ids) == 0 {
		return nil, ErrNoOrders
	}
	return ids, nil
}

// loadTable streams one source table for the collected ids, in batches.
func (e *Engine) loadTable(ctx context.Context, t *projector.Table, ids []string) error {
	keyColumn := "WorkOrderId"
	if t.Kind == projector.KindMaster {
		keyColumn = "Id"
	}

	total := 0
	for lo := 0; lo < len(ids); lo += e.batch {
		hi := lo + e.batch
		if hi > len(ids) {
			hi = len(ids)
		}
		n, err := e.loadBatch(ctx, t, keyColumn, ids[lo:hi])
		if err != nil {
			return errors.Wrapf(err, "backfill %s", t.Name)
		}
		total += n
	}
	log.WithFields(log.Fields{"table": t.Name, "rows": total}).Info("table backfilled")
	return nil
}

func (e *Engine) loadBatch(ctx context.Context, t *projector.Table, keyColumn string, ids []string) (int, error) {
	cols := "*"
	if t.Name == projector.JSONTable {
		cols = strings.Join(jsonTableColumns, ", ")
	}
	q := "SELECT " + cols + " FROM " + t.Name +
		" WHERE " + keyColumn + " IN (" + placeholders(len(ids)) + ")"

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	return e.dispatchRows(ctx, t.Name, rows)
}

// loadFullTable streams an entire table, no id filter.
func (e *Engine) loadFullTable(ctx context.Context, table string) error {
	rows, err := e.db.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return errors.Wrapf(err, "backfill %s", table)
	}
	defer rows.Close()

	n, err := e.dispatchRows(ctx, table, rows)
	if err != nil {
		return errors.Wrapf(err, "backfill %s", table)
	}
	log.WithFields(log.Fields{"table": table, "rows": n}).Info("table backfilled in full")
	return nil
}

// dispatchRows synthesizes one update event per row. A single row's
// projection failure is logged and skipped; the load keeps going.
func (e *Engine) dispatchRows(ctx context.Context, table string, rows *sql.Rows) (int, error) {
	cols, err := rows.Columns()
	if err != nil {
		return 0, errors.Wrap(err, "read result columns")
	}

	n := 0
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return n, errors.Wrap(err, "scan row")
		}

		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		ev := projector.Event{
			Schema: e.schema,
			Table:  table,
			Action: projector.ActionUpdate,
			Row:    row,
		}
		if err := e.dispatch.Dispatch(ctx, ev); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"table": table,
				"id":    row["Id"],
			}).Error("backfill row dropped")
			continue
		}
		n++
	}
	return n, errors.Wrap(rows.Err(), "iterate rows")
}

// masterStatus asks the source for its current replication offset.
func (e *Engine) masterStatus(ctx context.Context) (mysql.Position, error) {
	rows, err := e.db.QueryContext(ctx, "SHOW MASTER STATUS")
	if err != nil {
		return mysql.Position{}, errors.Wrap(err, "show master status")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return mysql.Position{}, errors.Wrap(err, "read master status columns")
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return mysql.Position{}, errors.Wrap(err, "read master status")
		}
		return mysql.Position{}, errors.New("source reports no replication offset (binlog disabled?)")
	}

	// Only File and Position matter; the column count varies by server
	// version.
	var file string
	var pos uint32
	values := make([]interface{}, len(cols))
	for i := range values {
		switch i {
		case 0:
			values[i] = &file
		case 1:
			values[i] = &pos
		default:
			values[i] = new(sql.RawBytes)
		}
	}
	if err := rows.Scan(values...); err != nil {
		return mysql.Position{}, errors.Wrap(err, "scan master status")
	}
	return mysql.Position{Name: file, Pos: pos}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
