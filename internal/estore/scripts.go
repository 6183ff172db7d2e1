package estore

import (
	elastic "github.com/olivere/elastic/v7"
)

// The nested-array protocols run inside the store so that the merge is
// atomic under its per-document lock. Both scripts are parameterized by
// field name; the store compiles and caches each source once.

// nestedUpsertSource replaces the array entry whose Id matches the
// incoming one, or appends it. A null array is created first. Order of
// first arrival is preserved: replacement never moves an entry.
const nestedUpsertSource = `
if (ctx._source[params.field] == null) {
    ctx._source[params.field] = new ArrayList();
}
def entries = ctx._source[params.field];
boolean found = false;
for (int i = 0; i < entries.size(); i++) {
    if (entries[i].Id == params.entry.Id) {
        entries.set(i, params.entry);
        found = true;
        break;
    }
}
if (!found) {
    entries.add(params.entry);
}
`

// nestedRemoveSource deletes every array entry whose Id matches. A null
// array is a no-op.
const nestedRemoveSource = `
if (ctx._source[params.field] != null) {
    def it = ctx._source[params.field].iterator();
    while (it.hasNext()) {
        if (it.next().Id == params.id) {
            it.remove();
        }
    }
}
`

func upsertScript(field string, entry map[string]interface{}) *elastic.Script {
	return elastic.NewScript(nestedUpsertSource).Lang("painless").Params(map[string]interface{}{
		"field": field,
		"entry": entry,
	})
}

func removeScript(field, entryID string) *elastic.Script {
	return elastic.NewScript(nestedRemoveSource).Lang("painless").Params(map[string]interface{}{
		"field": field,
		"id":    entryID,
	})
}
