package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/tool"
)

func TestContextTool_ReadSharedBlock(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()
	group := id.NewGroupID()

	block, err := mem.CreateCore(context.Background(), owner, "shared-notes", "visible to the team", 0)
	if err != nil {
		t.Fatalf("CreateCore: %v", err)
	}

	ctx := context.Background()
	if _, err := fs.Relate(ctx, "group", group.String(), "group_members", "agent", agent.String(), nil); err != nil {
		t.Fatalf("relate membership: %v", err)
	}
	if _, err := fs.Relate(ctx, "group", group.String(), "group_shared_blocks", "mem", block.ID.String(), nil); err != nil {
		t.Fatalf("relate shared block: %v", err)
	}

	toolCtx := tool.WithHandle(ctx, newTestHandle(fs, mem, agent, owner))
	tl := NewContextTool()

	input, _ := json.Marshal(contextInput{Operation: ContextOpRead, BlockLabel: "shared-notes"})
	out, err := tl.Execute(toolCtx, input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "visible to the team" {
		t.Errorf("out = %q, want block content", out)
	}
}

func TestContextTool_WriteRequiresAccess(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()
	group := id.NewGroupID()

	block, err := mem.CreateCore(context.Background(), owner, "shared-notes", "original", 0)
	if err != nil {
		t.Fatalf("CreateCore: %v", err)
	}

	ctx := context.Background()
	fs.Relate(ctx, "group", group.String(), "group_members", "agent", agent.String(), nil)
	fs.Relate(ctx, "group", group.String(), "group_shared_blocks", "mem", block.ID.String(), nil)

	toolCtx := tool.WithHandle(ctx, newTestHandle(fs, mem, agent, owner))
	tl := NewContextTool()

	input, _ := json.Marshal(contextInput{Operation: ContextOpWrite, BlockLabel: "shared-notes", Content: "edited"})
	_, err = tl.Execute(toolCtx, input)
	if err == nil || !tool.IsToolCancel(err) {
		t.Fatalf("expected ToolCancel for read-only agent, got %v", err)
	}
}

func TestContextTool_WriteWithAccessSucceeds(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()
	group := id.NewGroupID()

	block, err := mem.CreateCore(context.Background(), owner, "shared-notes", "original", 0)
	if err != nil {
		t.Fatalf("CreateCore: %v", err)
	}

	ctx := context.Background()
	fs.Relate(ctx, "group", group.String(), "group_members", "agent", agent.String(), nil)
	fs.Relate(ctx, "group", group.String(), "group_shared_blocks", "mem", block.ID.String(), nil)
	if err := mem.AttachToAgent(ctx, block.ID, agent, "write"); err != nil {
		t.Fatalf("AttachToAgent: %v", err)
	}

	toolCtx := tool.WithHandle(ctx, newTestHandle(fs, mem, agent, owner))
	tl := NewContextTool()

	input, _ := json.Marshal(contextInput{Operation: ContextOpWrite, BlockLabel: "shared-notes", Content: "edited"})
	if _, err := tl.Execute(toolCtx, input); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	updated, err := mem.Get(ctx, block.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Content != "edited" {
		t.Errorf("Content = %q, want edited", updated.Content)
	}
}

func TestContextTool_UnknownLabelDiscards(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	agent := id.NewAgentID()

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, agent, owner))
	tl := NewContextTool()

	input, _ := json.Marshal(contextInput{Operation: ContextOpRead, BlockLabel: "nope"})
	_, err := tl.Execute(ctx, input)
	if err == nil || !tool.IsToolDiscard(err) {
		t.Fatalf("expected ToolDiscard, got %v", err)
	}
}
