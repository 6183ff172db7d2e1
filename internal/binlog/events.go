package binlog

import (
	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/go-mysql-org/go-mysql/schema"
	log "github.com/sirupsen/logrus"

	"github.com/wideorder/widesync/internal/projector"
)

// eventHandler adapts canal callbacks onto the tailer. Only row events,
// rotations, and position syncs matter; everything else keeps the dummy
// no-op behavior.
type eventHandler struct {
	canal.DummyEventHandler
	tailer *Tailer
}

func (h *eventHandler) OnRow(e *canal.RowsEvent) error {
	h.tailer.touch()
	pos := h.tailer.Position()
	for _, ev := range convertRows(e) {
		h.tailer.sink(ev, pos)
	}
	return nil
}

func (h *eventHandler) OnRotate(_ *replication.EventHeader, e *replication.RotateEvent) error {
	h.tailer.setPosition(mysql.Position{Name: string(e.NextLogName), Pos: uint32(e.Position)})
	return nil
}

func (h *eventHandler) OnPosSynced(_ *replication.EventHeader, pos mysql.Position, _ mysql.GTIDSet, _ bool) error {
	h.tailer.setPosition(pos)
	return nil
}

func (h *eventHandler) String() string {
	return "widesync.binlog"
}

// convertRows flattens one replication rows-event into per-row pipeline
// events. Updates arrive as before/after pairs; only the after image is
// projected. Deletes carry the last known image.
func convertRows(e *canal.RowsEvent) []projector.Event {
	var action projector.Action
	rows := e.Rows
	switch e.Action {
	case canal.InsertAction:
		action = projector.ActionInsert
	case canal.UpdateAction:
		action = projector.ActionUpdate
		rows = afterImages(e.Rows)
	case canal.DeleteAction:
		action = projector.ActionDelete
	default:
		log.WithFields(log.Fields{
			"table":  e.Table.Name,
			"action": e.Action,
		}).Warn("unrecognized row action, event skipped")
		return nil
	}

	out := make([]projector.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, projector.Event{
			Schema: e.Table.Schema,
			Table:  e.Table.Name,
			Action: action,
			Row:    rowMap(e.Table, row),
		})
	}
	return out
}

// afterImages keeps the second element of each before/after pair.
func afterImages(rows [][]interface{}) [][]interface{} {
	out := make([][]interface{}, 0, len(rows)/2)
	for i := 1; i < len(rows); i += 2 {
		out = append(out, rows[i])
	}
	return out
}

// rowMap pairs column ordinals with their names from the table metadata.
// Trailing columns added by an unseen ALTER are dropped rather than
// misattributed.
func rowMap(t *schema.Table, row []interface{}) map[string]interface{} {
	n := len(t.Columns)
	if len(row) < n {
		n = len(row)
	}
	m := make(map[string]interface{}, n)
	for i := 0; i < n; i++ {
		m[t.Columns[i].Name] = row[i]
	}
	return m
}
