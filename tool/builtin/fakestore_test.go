package builtin

import (
	"context"
	"strings"
	"sync"

	"github.com/youssefsiam38/pattern/store"
)

// fakeStore is a minimal in-memory store.Store, sufficient to exercise the
// built-in tools without a real Postgres instance. The data_source tool
// forwards messages from a background goroutine, so access is mutex-guarded
// rather than a bare map.
type fakeStore struct {
	store.Store
	mu    sync.Mutex
	rows  map[string]store.Row
	edges []store.Row
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]store.Row)}
}

func (f *fakeStore) Create(ctx context.Context, table, key string, content store.Row) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := store.Row{}
	for k, v := range content {
		row[k] = v
	}
	row["id"] = key
	f.rows[key] = row
	return row, nil
}

func (f *fakeStore) Select(ctx context.Context, table, key string) (store.Row, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key]
	return row, ok, nil
}

func (f *fakeStore) UpdateMerge(ctx context.Context, table, key string, patch store.Row) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key]
	if !ok {
		row = store.Row{"id": key}
	}
	for k, v := range patch {
		row[k] = v
	}
	f.rows[key] = row
	return row, nil
}

func (f *fakeStore) Delete(ctx context.Context, table, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, key)
	return nil
}

// snapshotRows returns a copy of the current rows, safe for a test to range
// over while Create may still be running on a background goroutine.
func (f *fakeStore) snapshotRows() map[string]store.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]store.Row, len(f.rows))
	for k, v := range f.rows {
		out[k] = v
	}
	return out
}

func (f *fakeStore) Relate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string, props store.Row) (store.Row, error) {
	edge := store.Row{"from_table": fromTable, "from_id": fromKey, "relation": relation, "to_table": toTable, "to_id": toKey}
	for k, v := range props {
		edge[k] = v
	}
	f.edges = append(f.edges, edge)
	return edge, nil
}

func (f *fakeStore) Unrelate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string) error {
	out := f.edges[:0]
	for _, e := range f.edges {
		if e["from_id"] == fromKey && e["to_id"] == toKey && e["relation"] == relation {
			continue
		}
		out = append(out, e)
	}
	f.edges = out
	return nil
}

func (f *fakeStore) RelatedTo(ctx context.Context, fromTable, fromKey, relation string) ([]store.Row, error) {
	var out []store.Row
	for _, e := range f.edges {
		if e["from_id"] == fromKey && e["relation"] == relation {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) RelatedFrom(ctx context.Context, toTable, toKey, relation string) ([]store.Row, error) {
	var out []store.Row
	for _, e := range f.edges {
		if e["to_id"] == toKey && e["relation"] == relation {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) TextSearch(ctx context.Context, table, field, query string, op store.TextSearchOp, k int, filter map[string]any) ([]store.ScoredRow, error) {
	var out []store.ScoredRow
	q := strings.ToLower(query)
	for _, row := range f.rows {
		if !rowMatchesFilter(row, filter) {
			continue
		}
		content, _ := row[field].(string)
		if q == "" || strings.Contains(strings.ToLower(content), q) {
			out = append(out, store.ScoredRow{Row: row, Score: 1})
		}
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) VectorSearch(ctx context.Context, table, field string, vector []float32, k int, filter map[string]any) ([]store.ScoredRow, error) {
	return nil, nil
}

func rowMatchesFilter(row store.Row, filter map[string]any) bool {
	for k, v := range filter {
		if row[k] != v {
			return false
		}
	}
	return true
}
