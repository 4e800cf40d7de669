package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/tool"
)

func newTestHandle(fs *fakeStore, mem *memory.Manager, agentID id.AgentID, ownerID id.UserID) tool.Handle {
	return tool.Handle{AgentID: agentID, OwnerID: ownerID, Memory: mem, Store: fs}
}

func TestUpdateMemoryTool_Replace(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()

	block, err := mem.CreateCore(context.Background(), owner, "persona", "old content", 0)
	if err != nil {
		t.Fatalf("CreateCore: %v", err)
	}
	if err := mem.AttachToAgent(context.Background(), block.ID, agent, "write"); err != nil {
		t.Fatalf("AttachToAgent: %v", err)
	}

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, agent, owner))
	tl := NewUpdateMemoryTool()

	input, _ := json.Marshal(updateMemoryInput{Label: "persona", Operation: MemoryOpReplace, Content: "new content"})
	out, err := tl.Execute(ctx, input)
	if err != nil {
		t.Fatalf("Execute: %v, out=%s", err, out)
	}

	updated, err := mem.Get(context.Background(), block.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Content != "new content" {
		t.Errorf("Content = %q, want %q", updated.Content, "new content")
	}
}

func TestUpdateMemoryTool_AppendIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()

	block, err := mem.CreateCore(context.Background(), owner, "notes", "line one", 0)
	if err != nil {
		t.Fatalf("CreateCore: %v", err)
	}
	if err := mem.AttachToAgent(context.Background(), block.ID, agent, "write"); err != nil {
		t.Fatalf("AttachToAgent: %v", err)
	}

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, agent, owner))
	tl := NewUpdateMemoryTool()

	input, _ := json.Marshal(updateMemoryInput{Label: "notes", Operation: MemoryOpAppend, Content: "line two"})
	if _, err := tl.Execute(ctx, input); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := tl.Execute(ctx, input); err != nil {
		t.Fatalf("second append: %v", err)
	}

	updated, err := mem.Get(context.Background(), block.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := "line one\nline two"
	if updated.Content != want {
		t.Errorf("Content = %q, want %q (append should be a no-op the second time)", updated.Content, want)
	}
}

func TestUpdateMemoryTool_Archive(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, agent, owner))
	tl := NewUpdateMemoryTool()

	input, _ := json.Marshal(updateMemoryInput{Label: "fact", Operation: MemoryOpArchive, Content: "the sky is blue"})
	out, err := tl.Execute(ctx, input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out == "" {
		t.Error("expected non-empty confirmation output")
	}
}

func TestUpdateMemoryTool_UnknownLabelDiscards(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, agent, owner))
	tl := NewUpdateMemoryTool()

	input, _ := json.Marshal(updateMemoryInput{Label: "nonexistent", Operation: MemoryOpReplace, Content: "x"})
	_, err := tl.Execute(ctx, input)
	if err == nil {
		t.Fatal("expected error for unknown label")
	}
	if !tool.IsToolDiscard(err) {
		t.Errorf("expected ToolDiscard error, got %v", err)
	}
}
