package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/store"
)

// fakeStore is a minimal in-memory store.Store sufficient to exercise
// Coordinator without a real Postgres instance.
type fakeStore struct {
	store.Store
	rows map[string]store.Row
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]store.Row)}
}

func (f *fakeStore) Create(ctx context.Context, table, key string, content store.Row) (store.Row, error) {
	row := store.Row{}
	for k, v := range content {
		row[k] = v
	}
	row["id"] = key
	f.rows[key] = row
	return row, nil
}

func (f *fakeStore) Select(ctx context.Context, table, key string) (store.Row, bool, error) {
	row, ok := f.rows[key]
	return row, ok, nil
}

func (f *fakeStore) UpdateMerge(ctx context.Context, table, key string, patch store.Row) (store.Row, error) {
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

// fakeSource is a stub Source whose Pull returns a fixed, one-shot item
// list and whose Subscribe never pushes anything (exercised separately by
// Coordinator.Pull's direct path).
type fakeSource struct {
	kind  string
	items []Item
}

func (s *fakeSource) Kind() string { return s.kind }

func (s *fakeSource) Pull(ctx context.Context, limit int, afterCursor Cursor) ([]Item, error) {
	var out []Item
	for _, item := range s.items {
		if item.Cursor > afterCursor {
			out = append(out, item)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeSource) Subscribe(ctx context.Context, afterCursor Cursor) (<-chan Event, func(), error) {
	out := make(chan Event)
	close(out)
	return out, func() {}, nil
}

func (s *fakeSource) Metadata(ctx context.Context) (Stats, error) {
	return Stats{Kind: s.kind, ItemsPulled: int64(len(s.items))}, nil
}

func TestCoordinator_RegisterCreatesRow(t *testing.T) {
	fs := newFakeStore()
	c := New(fs)
	agent := id.NewAgentID()
	src := &fakeSource{kind: "fake"}

	dsID, err := c.Register(context.Background(), "fake", src, agent, "tmpl", "{{content}}", 8, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	row, ok, err := fs.Select(context.Background(), "data_source", dsID.String())
	if err != nil || !ok {
		t.Fatalf("expected data_source row to exist, ok=%v err=%v", ok, err)
	}
	if row["kind"] != "fake" {
		t.Errorf("kind = %v, want fake", row["kind"])
	}
}

func TestCoordinator_PullForwardsAndAdvancesCursor(t *testing.T) {
	fs := newFakeStore()
	c := New(fs)
	agent := id.NewAgentID()
	src := &fakeSource{
		kind: "fake",
		items: []Item{
			{ID: "1", Cursor: "1", Fields: map[string]string{"content": "first item"}},
			{ID: "2", Cursor: "2", Fields: map[string]string{"content": "second item"}},
		},
	}

	dsID, err := c.Register(context.Background(), "fake", src, agent, "tmpl", "{{content}}", 8, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	items, err := c.Pull(context.Background(), dsID, 10)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}

	row, _, _ := fs.Select(context.Background(), "data_source", dsID.String())
	cursor := cursorFromRow(row)
	if cursor != "2" {
		t.Errorf("cursor = %q, want %q", cursor, "2")
	}

	var delivered []*message.Message
	for _, r := range fs.rows {
		if r["agent_id"] == agent.String() {
			m, err := message.FromRow(r)
			if err != nil {
				t.Fatalf("FromRow: %v", err)
			}
			delivered = append(delivered, m)
		}
	}
	if len(delivered) != 2 {
		t.Fatalf("expected 2 forwarded messages, got %d", len(delivered))
	}
	for _, m := range delivered {
		if m.Role != message.RoleSystem {
			t.Errorf("forwarded message role = %q, want system", m.Role)
		}
	}
}

func TestCoordinator_ListAndStats(t *testing.T) {
	fs := newFakeStore()
	c := New(fs)
	agent := id.NewAgentID()
	src := &fakeSource{kind: "fake"}

	dsID, err := c.Register(context.Background(), "fake", src, agent, "tmpl", "{{content}}", 4, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ids := c.List()
	if len(ids) != 1 || ids[0] != dsID {
		t.Fatalf("List() = %+v, want [%v]", ids, dsID)
	}

	stats, bufLen, err := c.Stats(context.Background(), dsID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Kind != "fake" {
		t.Errorf("Kind = %q, want fake", stats.Kind)
	}
	if bufLen != 0 {
		t.Errorf("bufLen = %d, want 0 (nothing pulled yet)", bufLen)
	}
}

func TestCoordinator_Unregister(t *testing.T) {
	fs := newFakeStore()
	c := New(fs)
	agent := id.NewAgentID()
	src := &fakeSource{kind: "fake"}

	dsID, err := c.Register(context.Background(), "fake", src, agent, "tmpl", "{{content}}", 4, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	c.Unregister(dsID)

	if len(c.List()) != 0 {
		t.Errorf("expected no registrations after Unregister, got %+v", c.List())
	}

	// The row itself is left intact for later resume.
	if _, ok, _ := fs.Select(context.Background(), "data_source", dsID.String()); !ok {
		t.Error("expected data_source row to survive Unregister")
	}

	time.Sleep(10 * time.Millisecond) // let the closed forwardLoop goroutine exit
}
