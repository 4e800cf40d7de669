package compaction

import (
	"context"
	"testing"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/store"
)

// fakeStore is a minimal in-memory store.Store sufficient to exercise
// Compactor without a real Postgres instance.
type fakeStore struct {
	store.Store
	rows     map[string]store.Row
	edges    []store.Row
	messages []store.Row
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
	for i, m := range f.messages {
		if m["id"] == key {
			for k, v := range patch {
				f.messages[i][k] = v
			}
		}
	}
	return row, nil
}

func (f *fakeStore) Relate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string, props store.Row) (store.Row, error) {
	edge := store.Row{"from_table": fromTable, "from_id": fromKey, "relation": relation, "to_table": toTable, "to_id": toKey}
	f.edges = append(f.edges, edge)
	return edge, nil
}

func (f *fakeStore) RelatedTo(ctx context.Context, fromTable, fromKey, relation string) ([]store.Row, error) {
	var out []store.Row
	for _, e := range f.edges {
		if e["from_table"] == fromTable && e["from_id"] == fromKey && e["relation"] == relation {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) QueryMany(ctx context.Context, statement string, bindings map[string]any, dst any) error {
	out, ok := dst.(*store.ResultSet)
	if !ok {
		return nil
	}
	var matched store.ResultSet
	for _, m := range f.messages {
		if bindings["agent_id"] != nil && m["agent_id"] != bindings["agent_id"] {
			continue
		}
		if inContext, _ := m["in_context"].(bool); !inContext {
			continue
		}
		matched = append(matched, m)
	}
	*out = matched
	return nil
}

func (f *fakeStore) addMessage(m *message.Message) {
	f.messages = append(f.messages, m.ToRow())
}

// fakeProvider returns a fixed summary text regardless of input.
type fakeProvider struct{ summary string }

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	return &model.Response{
		Message:    &message.Message{Role: message.RoleAssistant, Content: []message.ContentBlock{{Type: message.ContentTypeText, Text: p.summary}}},
		StopReason: runstate.StopReasonEndTurn,
	}, nil
}

func newLongHistory(agentID id.AgentID, n int) []*message.Message {
	var out []*message.Message
	for i := 0; i < n; i++ {
		m := &message.Message{
			ID:        id.NewMessageID(),
			AgentID:   agentID,
			Role:      message.RoleUser,
			Position:  int64(i),
			InContext: true,
			Content:   []message.ContentBlock{{Type: message.ContentTypeText, Text: "a fairly long message body to accumulate tokens across history"}},
		}
		out = append(out, m)
	}
	return out
}

func TestNeedsCompactionFalseForShortHistory(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	agentID := id.NewAgentID()
	for _, m := range newLongHistory(agentID, 3) {
		fs.addMessage(m)
	}

	c := New(fs, mem, &fakeProvider{summary: "summary"}, nil, nil)
	needed, err := c.NeedsCompaction(context.Background(), agentID)
	if err != nil {
		t.Fatalf("NeedsCompaction() error = %v", err)
	}
	if needed {
		t.Error("expected NeedsCompaction() = false for a short history")
	}
}

func TestCompactSummarizesAndWritesRecallBlock(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	agentID := id.NewAgentID()
	ownerID := id.NewUserID()
	for _, m := range newLongHistory(agentID, 20) {
		fs.addMessage(m)
	}

	config := DefaultConfig()
	config.PreserveLastN = 2
	// New applies defaults to zero-valued fields, so a zero ProtectedTokens
	// would become DefaultProtectedTokens; 1 protects no message here.
	config.ProtectedTokens = 1
	config.Strategy = StrategySummarization
	c := New(fs, mem, &fakeProvider{summary: "a structured summary"}, nil, config)

	result, err := c.Compact(context.Background(), agentID, ownerID)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if result.RecallBlockID == nil {
		t.Fatal("expected a recall block to be created")
	}
	if result.MessagesRemoved == 0 {
		t.Error("expected some messages to be archived")
	}

	block, err := mem.Get(context.Background(), *result.RecallBlockID)
	if err != nil {
		t.Fatalf("Get() recall block error = %v", err)
	}
	if block.Content != "a structured summary" {
		t.Errorf("recall block content = %q", block.Content)
	}

	blocks, err := mem.CoreBlocksFor(context.Background(), agentID)
	if err != nil {
		t.Fatalf("CoreBlocksFor() error = %v", err)
	}
	if len(blocks) != 0 {
		t.Error("recall block should not appear in CoreBlocksFor, which only returns core blocks")
	}
}

func TestCompactNoMessagesReturnsError(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	c := New(fs, mem, &fakeProvider{summary: "x"}, nil, nil)

	_, err := c.Compact(context.Background(), id.NewAgentID(), id.NewUserID())
	if err == nil {
		t.Fatal("expected error when there are no messages to compact")
	}
}
