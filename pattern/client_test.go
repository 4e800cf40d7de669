package pattern

import (
	"context"
	"testing"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/internal/testutil"
	"github.com/youssefsiam38/pattern/message"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(
		WithStore(testutil.NewFakeStore()),
		WithModelProvider(testutil.NewFakeProvider(testutil.EndTurnResponse("hi"))),
		WithInstanceID("test-instance"),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RequiresStoreAndProvider(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("New() with no options should fail validation")
	}
	if _, err := New(WithStore(testutil.NewFakeStore())); err == nil {
		t.Fatal("New() with no ModelProvider should fail validation")
	}
}

func TestClient_CreateAgent_StampsTimestamps(t *testing.T) {
	c := newTestClient(t)
	ownerID := id.NewUserID()

	agentID, err := c.CreateAgent(context.Background(), ownerID, "worker", "tester", "be helpful", "claude-test")
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	row, ok, err := c.Store().Select(context.Background(), "agent", agentID.String())
	if err != nil || !ok {
		t.Fatalf("Select() = %v, %v, %v", row, ok, err)
	}
	if row["created_at"] == nil {
		t.Error("created_at not stamped")
	}
	if row["updated_at"] == nil {
		t.Error("updated_at not stamped")
	}

	owner, err := c.ownerOf(context.Background(), agentID)
	if err != nil {
		t.Fatalf("ownerOf() error = %v", err)
	}
	if owner != ownerID {
		t.Errorf("ownerOf() = %s, want %s", owner, ownerID)
	}
}

func TestClient_StartStop_RejectsDoubleStartAndStop(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Stop(ctx); err == nil {
		t.Error("second Stop() should fail")
	}
}

func TestClient_SendMessage_SubmitsToEngine(t *testing.T) {
	c := newTestClient(t)
	ownerID := id.NewUserID()
	ctx := context.Background()

	agentID, err := c.CreateAgent(ctx, ownerID, "worker", "tester", "be helpful", "claude-test")
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	if _, err := c.SendMessage(ctx, agentID, []message.ContentBlock{{Type: message.ContentTypeText, Text: "hello"}}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
}

func TestClient_CreateMemoryBlock_AllKinds(t *testing.T) {
	c := newTestClient(t)
	ownerID := id.NewUserID()
	ctx := context.Background()

	if _, err := c.CreateMemoryBlock(ctx, ownerID, MemoryBlockCore, "persona", "You are helpful.", 200); err != nil {
		t.Fatalf("CreateMemoryBlock(core) error = %v", err)
	}
	if _, err := c.CreateMemoryBlock(ctx, ownerID, MemoryBlockArchival, "fact", "the sky is blue", 0); err != nil {
		t.Fatalf("CreateMemoryBlock(archival) error = %v", err)
	}
	if _, err := c.CreateMemoryBlock(ctx, ownerID, MemoryBlockRecall, "summary", "previously...", 0); err != nil {
		t.Fatalf("CreateMemoryBlock(recall) error = %v", err)
	}
	if _, err := c.CreateMemoryBlock(ctx, ownerID, MemoryBlockKind("bogus"), "x", "y", 0); err == nil {
		t.Error("CreateMemoryBlock(bogus kind) should fail")
	}
}
