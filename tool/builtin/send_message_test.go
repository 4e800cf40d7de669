package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/tool"
	"github.com/youssefsiam38/pattern/transport"
)

func TestSendMessageTool_ToAgent(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	sender := id.NewAgentID()
	recipient := id.NewAgentID()

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, sender, owner))
	tl := NewSendMessageTool()

	input, _ := json.Marshal(sendMessageInput{Target: TargetAgent, ID: recipient.String(), Content: "hello there"})
	out, err := tl.Execute(ctx, input)
	if err != nil {
		t.Fatalf("Execute: %v, out=%s", err, out)
	}

	found := 0
	for _, row := range fs.rows {
		if row["agent_id"] == recipient.String() {
			found++
		}
	}
	if found != 1 {
		t.Errorf("expected 1 message delivered to recipient, found %d", found)
	}
}

func TestSendMessageTool_ToGroupSkipsSender(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	sender := id.NewAgentID()
	memberA := id.NewAgentID()
	memberB := id.NewAgentID()
	group := id.NewGroupID()

	ctx := context.Background()
	fs.Relate(ctx, "group", group.String(), "group_members", "agent", sender.String(), nil)
	fs.Relate(ctx, "group", group.String(), "group_members", "agent", memberA.String(), nil)
	fs.Relate(ctx, "group", group.String(), "group_members", "agent", memberB.String(), nil)

	toolCtx := tool.WithHandle(ctx, newTestHandle(fs, mem, sender, owner))
	tl := NewSendMessageTool()

	input, _ := json.Marshal(sendMessageInput{Target: TargetGroup, ID: group.String(), Content: "team update"})
	if _, err := tl.Execute(toolCtx, input); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	delivered := map[string]bool{}
	for _, row := range fs.rows {
		if agentID, ok := row["agent_id"].(string); ok {
			delivered[agentID] = true
		}
	}
	if delivered[sender.String()] {
		t.Error("sender should not receive its own broadcast")
	}
	if !delivered[memberA.String()] || !delivered[memberB.String()] {
		t.Error("both other members should have received the message")
	}
}

func TestSendMessageTool_ToUserUsesTransport(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	sender := id.NewAgentID()

	h := newTestHandle(fs, mem, sender, owner)
	h.Transport = transport.NewLoggingEndpoint(nil)
	ctx := tool.WithHandle(context.Background(), h)
	tl := NewSendMessageTool()

	input, _ := json.Marshal(sendMessageInput{Target: TargetUser, ID: "user-42", Content: "ping"})
	out, err := tl.Execute(ctx, input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out == "" {
		t.Error("expected non-empty confirmation")
	}
}

func TestSendMessageTool_ToUserWithoutTransportDiscards(t *testing.T) {
	fs := newFakeStore()
	mem := memory.New(fs, nil)
	owner := id.NewUserID()
	sender := id.NewAgentID()

	ctx := tool.WithHandle(context.Background(), newTestHandle(fs, mem, sender, owner))
	tl := NewSendMessageTool()

	input, _ := json.Marshal(sendMessageInput{Target: TargetUser, ID: "user-42", Content: "ping"})
	_, err := tl.Execute(ctx, input)
	if err == nil || !tool.IsToolDiscard(err) {
		t.Fatalf("expected ToolDiscard error, got %v", err)
	}
}
