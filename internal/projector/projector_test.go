package projector

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/wideorder/widesync/internal/estore"
)

// recorder captures executor calls for assertion.
type recorder struct {
	ops     []string
	ids     []string
	fields  []string
	indexes []string
	docs    []map[string]interface{}
	err     error
}

func (r *recorder) UpsertPrimary(_ context.Context, id string, patch map[string]interface{}) error {
	r.ops = append(r.ops, "upsert-primary")
	r.ids = append(r.ids, id)
	r.docs = append(r.docs, patch)
	return r.err
}

func (r *recorder) DeletePrimary(_ context.Context, id string) error {
	r.ops = append(r.ops, "delete-primary")
	r.ids = append(r.ids, id)
	return r.err
}

func (r *recorder) UpsertNested(_ context.Context, parentID, field string, entry map[string]interface{}) error {
	r.ops = append(r.ops, "upsert-nested")
	r.ids = append(r.ids, parentID)
	r.fields = append(r.fields, field)
	r.docs = append(r.docs, entry)
	return r.err
}

func (r *recorder) DeleteNested(_ context.Context, parentID, field, entryID string) error {
	r.ops = append(r.ops, "delete-nested")
	r.ids = append(r.ids, parentID+"/"+entryID)
	r.fields = append(r.fields, field)
	return r.err
}

func (r *recorder) IndexSide(_ context.Context, index, id string, doc map[string]interface{}) error {
	r.ops = append(r.ops, "index-side")
	r.indexes = append(r.indexes, index)
	r.ids = append(r.ids, id)
	r.docs = append(r.docs, doc)
	return r.err
}

func (r *recorder) DeleteSide(_ context.Context, index, id string) error {
	r.ops = append(r.ops, "delete-side")
	r.indexes = append(r.indexes, index)
	r.ids = append(r.ids, id)
	return r.err
}

func TestDispatchUnknownTable(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec)

	err := d.Dispatch(context.Background(), Event{
		Schema: "workorder",
		Table:  "tb_nobody_knows",
		Action: ActionInsert,
		Row:    map[string]interface{}{"Id": 1},
	})
	if err != nil {
		t.Fatalf("unknown table should not error: %v", err)
	}
	if len(rec.ops) != 0 {
		t.Errorf("unknown table reached the executor: %v", rec.ops)
	}
}

func TestDispatchMaster(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec)

	row := map[string]interface{}{
		"Id":           int64(81),
		"CustomerName": "客户甲",
		"CreatedAt":    time.Date(2025, 3, 21, 15, 26, 0, 0, time.UTC),
		"SomePrivate":  "never copied",
	}
	if err := d.Dispatch(context.Background(), Event{Table: "tb_workorderinfo", Action: ActionInsert, Row: row}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if got := rec.ops; !reflect.DeepEqual(got, []string{"upsert-primary"}) {
		t.Fatalf("ops = %v", got)
	}
	if rec.ids[0] != "81" {
		t.Errorf("doc id = %q, want 81", rec.ids[0])
	}
	patch := rec.docs[0]
	if patch["Id"] != "81" {
		t.Errorf("patch Id = %#v, want stringified", patch["Id"])
	}
	if patch["CustomerName"] != "客户甲" {
		t.Errorf("patch CustomerName = %#v", patch["CustomerName"])
	}
	if patch["CreatedAt"] != "2025-03-21 15:26:00" {
		t.Errorf("patch CreatedAt = %#v", patch["CreatedAt"])
	}
	if _, ok := patch["SomePrivate"]; ok {
		t.Error("non-whitelisted column copied into patch")
	}
	// Whitelisted but absent columns are still present, as nulls.
	if v, ok := patch["LinkTel"]; !ok || v != nil {
		t.Errorf("absent column LinkTel = %#v, %v; want nil, true", v, ok)
	}

	if err := d.Dispatch(context.Background(), Event{Table: "tb_workorderinfo", Action: ActionDelete, Row: row}); err != nil {
		t.Fatalf("Dispatch delete: %v", err)
	}
	if rec.ops[len(rec.ops)-1] != "delete-primary" {
		t.Errorf("delete routed to %s", rec.ops[len(rec.ops)-1])
	}
}

func TestDispatchNested(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec)

	row := map[string]interface{}{
		"Id":          int64(7),
		"WorkOrderId": int64(81),
		"PlateNumber": "京A12345",
	}
	if err := d.Dispatch(context.Background(), Event{Table: "tb_workcarinfo", Action: ActionUpdate, Row: row}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if rec.ops[0] != "upsert-nested" || rec.ids[0] != "81" || rec.fields[0] != "CarInfo" {
		t.Fatalf("routed as %s %s %s", rec.ops[0], rec.ids[0], rec.fields[0])
	}
	entry := rec.docs[0]
	if entry["Id"] != "7" || entry["WorkOrderId"] != "81" {
		t.Errorf("entry ids = %#v / %#v, want strings", entry["Id"], entry["WorkOrderId"])
	}
	if entry["PlateNumber"] != "京A12345" {
		t.Errorf("entry PlateNumber = %#v", entry["PlateNumber"])
	}

	if err := d.Dispatch(context.Background(), Event{Table: "tb_workcarinfo", Action: ActionDelete, Row: row}); err != nil {
		t.Fatalf("Dispatch delete: %v", err)
	}
	if rec.ops[1] != "delete-nested" || rec.ids[1] != "81/7" || rec.fields[1] != "CarInfo" {
		t.Errorf("delete routed as %s %s %s", rec.ops[1], rec.ids[1], rec.fields[1])
	}
}

func TestDispatchSide(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec)

	if err := d.Dispatch(context.Background(), Event{
		Table:  "tb_operatinginfo",
		Action: ActionInsert,
		Row: map[string]interface{}{
			"Id":          int64(3),
			"WorkOrderId": int64(81),
			"OperName":    "安装",
		},
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rec.indexes[0] != estore.SideIndexOperating || rec.ids[0] != "3" {
		t.Fatalf("routed to %s/%s", rec.indexes[0], rec.ids[0])
	}
	if rec.docs[0]["WorkOrderId"] != "81" {
		t.Errorf("WorkOrderId = %#v, want string", rec.docs[0]["WorkOrderId"])
	}

	if err := d.Dispatch(context.Background(), Event{
		Table:  "basic_custspecialconfig",
		Action: ActionUpdate,
		Row: map[string]interface{}{
			"Id":          int64(11),
			"CustomerId":  int64(900),
			"ConfigValue": "{'AutoAssign':'1'}",
		},
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	doc := rec.docs[1]
	if doc["CustomerId"] != "900" {
		t.Errorf("CustomerId = %#v, want string", doc["CustomerId"])
	}
	want := map[string]interface{}{"AutoAssign": "1"}
	if !reflect.DeepEqual(doc["ConfigValue"], want) {
		t.Errorf("ConfigValue = %#v, want parsed object", doc["ConfigValue"])
	}

	if err := d.Dispatch(context.Background(), Event{
		Table:  "basic_custspecialconfig",
		Action: ActionDelete,
		Row:    map[string]interface{}{"Id": int64(11)},
	}); err != nil {
		t.Fatalf("Dispatch delete: %v", err)
	}
	if rec.ops[2] != "delete-side" || rec.indexes[2] != estore.SideIndexCustConfig {
		t.Errorf("delete routed as %s %s", rec.ops[2], rec.indexes[2])
	}
}

func TestDispatchMissingIdentifiers(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec)

	err := d.Dispatch(context.Background(), Event{
		Table:  "tb_workcarinfo",
		Action: ActionInsert,
		Row:    map[string]interface{}{"Id": int64(7)}, // no WorkOrderId
	})
	if err == nil {
		t.Fatal("expected error for satellite row without WorkOrderId")
	}
	if len(rec.ops) != 0 {
		t.Errorf("invalid row reached the executor: %v", rec.ops)
	}
}

func TestDispatchExecutorError(t *testing.T) {
	rec := &recorder{err: errors.New("store unavailable")}
	d := NewDispatcher(rec)

	err := d.Dispatch(context.Background(), Event{
		Table:  "tb_workorderinfo",
		Action: ActionInsert,
		Row:    map[string]interface{}{"Id": int64(1)},
	})
	if err == nil || err.Error() != "store unavailable" {
		t.Fatalf("executor error not surfaced: %v", err)
	}
}

// memStore implements the Executor contract in memory so that event
// sequences can be checked against the documented end state.
type memStore struct {
	wide map[string]map[string]interface{}
	side map[string]map[string]map[string]interface{}
}

func newMemStore() *memStore {
	return &memStore{
		wide: map[string]map[string]interface{}{},
		side: map[string]map[string]map[string]interface{}{},
	}
}

func (m *memStore) UpsertPrimary(_ context.Context, id string, patch map[string]interface{}) error {
	doc, ok := m.wide[id]
	if !ok {
		doc = map[string]interface{}{}
		m.wide[id] = doc
	}
	for k, v := range patch {
		doc[k] = v
	}
	return nil
}

func (m *memStore) DeletePrimary(_ context.Context, id string) error {
	delete(m.wide, id)
	return nil
}

func (m *memStore) UpsertNested(_ context.Context, parentID, field string, entry map[string]interface{}) error {
	doc, ok := m.wide[parentID]
	if !ok {
		doc = map[string]interface{}{}
		m.wide[parentID] = doc
	}
	arr, _ := doc[field].([]map[string]interface{})
	for i := range arr {
		if arr[i]["Id"] == entry["Id"] {
			arr[i] = entry
			doc[field] = arr
			return nil
		}
	}
	doc[field] = append(arr, entry)
	return nil
}

func (m *memStore) DeleteNested(_ context.Context, parentID, field, entryID string) error {
	doc, ok := m.wide[parentID]
	if !ok {
		return nil
	}
	arr, _ := doc[field].([]map[string]interface{})
	kept := arr[:0]
	for _, e := range arr {
		if e["Id"] != entryID {
			kept = append(kept, e)
		}
	}
	doc[field] = kept
	return nil
}

func (m *memStore) IndexSide(_ context.Context, index, id string, doc map[string]interface{}) error {
	if m.side[index] == nil {
		m.side[index] = map[string]map[string]interface{}{}
	}
	m.side[index][id] = doc
	return nil
}

func (m *memStore) DeleteSide(_ context.Context, index, id string) error {
	delete(m.side[index], id)
	return nil
}

func TestWorkOrderLifecycle(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store)
	ctx := context.Background()

	dispatch := func(table string, action Action, row map[string]interface{}) {
		t.Helper()
		if err := d.Dispatch(ctx, Event{Table: table, Action: action, Row: row}); err != nil {
			t.Fatalf("%s %s: %v", table, action, err)
		}
	}
	carInfo := func(id string) []map[string]interface{} {
		t.Helper()
		doc, ok := store.wide[id]
		if !ok {
			t.Fatalf("document %s absent", id)
		}
		arr, _ := doc["CarInfo"].([]map[string]interface{})
		return arr
	}

	// A satellite row arriving before its master creates a partial document.
	dispatch("tb_workcarinfo", ActionInsert, map[string]interface{}{
		"Id": 1, "WorkOrderId": 81, "PlateNumber": "京A",
	})
	if got := carInfo("81"); len(got) != 1 || got[0]["PlateNumber"] != "京A" {
		t.Fatalf("CarInfo after insert = %#v", got)
	}
	if _, ok := store.wide["81"]["CustomerName"]; ok {
		t.Error("partial document has scalar fields")
	}

	// The master row fills in scalars without touching nested arrays.
	dispatch("tb_workorderinfo", ActionUpdate, map[string]interface{}{
		"Id": 81, "CustomerName": "C",
	})
	if store.wide["81"]["CustomerName"] != "C" {
		t.Errorf("CustomerName = %#v", store.wide["81"]["CustomerName"])
	}
	if got := carInfo("81"); len(got) != 1 {
		t.Errorf("CarInfo disturbed by master update: %#v", got)
	}

	// Repeated satellite update replaces in place, no duplicate.
	dispatch("tb_workcarinfo", ActionUpdate, map[string]interface{}{
		"Id": 1, "WorkOrderId": 81, "PlateNumber": "京B",
	})
	if got := carInfo("81"); len(got) != 1 || got[0]["PlateNumber"] != "京B" {
		t.Fatalf("CarInfo after update = %#v", got)
	}

	// Two distinct satellite ids coexist.
	dispatch("tb_workcarinfo", ActionInsert, map[string]interface{}{
		"Id": 2, "WorkOrderId": 81, "PlateNumber": "津C",
	})
	if got := carInfo("81"); len(got) != 2 {
		t.Fatalf("CarInfo after second insert = %#v", got)
	}

	// Deleting one entry leaves the sibling and the scalars alone.
	dispatch("tb_workcarinfo", ActionDelete, map[string]interface{}{
		"Id": 1, "WorkOrderId": 81,
	})
	got := carInfo("81")
	if len(got) != 1 || got[0]["Id"] != "2" {
		t.Fatalf("CarInfo after delete = %#v", got)
	}
	if store.wide["81"]["CustomerName"] != "C" {
		t.Error("scalar fields disturbed by nested delete")
	}

	// Master delete removes the document; a late satellite recreates it
	// in partial state.
	dispatch("tb_workorderinfo", ActionDelete, map[string]interface{}{"Id": 81})
	if _, ok := store.wide["81"]; ok {
		t.Fatal("document survived master delete")
	}
	dispatch("tb_workcarinfo", ActionInsert, map[string]interface{}{
		"Id": 3, "WorkOrderId": 81, "PlateNumber": "沪D",
	})
	if got := carInfo("81"); len(got) != 1 || got[0]["Id"] != "3" {
		t.Fatalf("CarInfo after recreate = %#v", got)
	}
	if _, ok := store.wide["81"]["CustomerName"]; ok {
		t.Error("recreated document kept stale scalars")
	}
}
