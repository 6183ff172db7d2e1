package binlog

import (
	"reflect"
	"testing"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/schema"

	"github.com/wideorder/widesync/internal/projector"
)

func carTable() *schema.Table {
	return &schema.Table{
		Schema: "workorder",
		Name:   "tb_workcarinfo",
		Columns: []schema.TableColumn{
			{Name: "Id"},
			{Name: "WorkOrderId"},
			{Name: "PlateNumber"},
		},
	}
}

func TestConvertRowsInsert(t *testing.T) {
	evs := convertRows(&canal.RowsEvent{
		Table:  carTable(),
		Action: canal.InsertAction,
		Rows: [][]interface{}{
			{int64(1), int64(100), "京A11111"},
			{int64(2), int64(100), "京B22222"},
		},
	})
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	want := projector.Event{
		Schema: "workorder",
		Table:  "tb_workcarinfo",
		Action: projector.ActionInsert,
		Row: map[string]interface{}{
			"Id": int64(1), "WorkOrderId": int64(100), "PlateNumber": "京A11111",
		},
	}
	if !reflect.DeepEqual(evs[0], want) {
		t.Errorf("event[0] = %+v, want %+v", evs[0], want)
	}
}

func TestConvertRowsUpdateTakesAfterImage(t *testing.T) {
	evs := convertRows(&canal.RowsEvent{
		Table:  carTable(),
		Action: canal.UpdateAction,
		Rows: [][]interface{}{
			{int64(1), int64(100), "京A11111"}, // before
			{int64(1), int64(100), "京B22222"}, // after
		},
	})
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	if evs[0].Action != projector.ActionUpdate {
		t.Errorf("action = %s", evs[0].Action)
	}
	if got := evs[0].Row["PlateNumber"]; got != "京B22222" {
		t.Errorf("PlateNumber = %v, want the after image", got)
	}
}

func TestConvertRowsDelete(t *testing.T) {
	evs := convertRows(&canal.RowsEvent{
		Table:  carTable(),
		Action: canal.DeleteAction,
		Rows:   [][]interface{}{{int64(1), int64(100), "京A11111"}},
	})
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	if evs[0].Action != projector.ActionDelete {
		t.Errorf("action = %s", evs[0].Action)
	}
	if got := evs[0].Row["Id"]; got != int64(1) {
		t.Errorf("delete carries last image, Id = %v", got)
	}
}

func TestConvertRowsUnknownAction(t *testing.T) {
	evs := convertRows(&canal.RowsEvent{
		Table:  carTable(),
		Action: "truncate",
		Rows:   [][]interface{}{{int64(1), int64(100), "x"}},
	})
	if len(evs) != 0 {
		t.Errorf("unknown action produced %d events", len(evs))
	}
}

func TestRowMapShortRow(t *testing.T) {
	// A row narrower than the current table metadata must not panic and
	// must only map the columns it has.
	m := rowMap(carTable(), []interface{}{int64(1), int64(100)})
	if len(m) != 2 {
		t.Errorf("mapped %d columns, want 2", len(m))
	}
	if _, ok := m["PlateNumber"]; ok {
		t.Error("PlateNumber mapped from a short row")
	}
}

func TestTableRegexes(t *testing.T) {
	got := tableRegexes([]string{"workorder"}, []string{"tb_workorderinfo", "tb_workcarinfo"})
	want := []string{
		`^workorder\.tb_workorderinfo$`,
		`^workorder\.tb_workcarinfo$`,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tableRegexes = %v, want %v", got, want)
	}
}
