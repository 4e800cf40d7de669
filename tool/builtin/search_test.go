package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/tool"
)

func TestSearchTool_Conversations(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()

	msg := &message.Message{
		ID:      id.NewMessageID(),
		AgentID: agent,
		Role:    message.RoleUser,
		Content: []message.ContentBlock{{Type: message.ContentTypeText, Text: "the quick brown fox"}},
		CreatedAt: time.Now().UTC(),
	}
	if _, err := fs.Create(context.Background(), "msg", msg.ID.String(), msg.ToRow()); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, agent, owner))
	tl := NewSearchTool()

	input, _ := json.Marshal(searchInput{Domain: DomainConversations, Query: "fox", K: 5})
	out, err := tl.Execute(ctx, input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var hits []searchHit
	if err := json.Unmarshal([]byte(out), &hits); err != nil {
		t.Fatalf("unmarshal hits: %v", err)
	}
	if len(hits) != 1 || hits[0].Source != "conversations" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestSearchTool_MemoryBlocks(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()

	block, err := mem.CreateCore(context.Background(), owner, "persona", "I love astronomy", 0)
	if err != nil {
		t.Fatalf("CreateCore: %v", err)
	}
	if err := mem.AttachToAgent(context.Background(), block.ID, agent, "read"); err != nil {
		t.Fatalf("AttachToAgent: %v", err)
	}

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, agent, owner))
	tl := NewSearchTool()

	input, _ := json.Marshal(searchInput{Domain: DomainMemoryBlocks, Query: "astronomy", K: 5})
	out, err := tl.Execute(ctx, input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var hits []searchHit
	if err := json.Unmarshal([]byte(out), &hits); err != nil {
		t.Fatalf("unmarshal hits: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestSearchTool_KLimitsResults(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()

	labels := []string{"note-a", "note-b", "note-c"}
	for _, label := range labels {
		block, err := mem.CreateCore(context.Background(), owner, label, "shared keyword text", 0)
		if err != nil {
			t.Fatalf("CreateCore(%s): %v", label, err)
		}
		if err := mem.AttachToAgent(context.Background(), block.ID, agent, "read"); err != nil {
			t.Fatalf("AttachToAgent(%s): %v", label, err)
		}
	}

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, agent, owner))
	tl := NewSearchTool()

	input, _ := json.Marshal(searchInput{Domain: DomainMemoryBlocks, Query: "keyword", K: 2})
	out, err := tl.Execute(ctx, input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var hits []searchHit
	if err := json.Unmarshal([]byte(out), &hits); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("len(hits) = %d, want 2 (K limit)", len(hits))
	}
}
