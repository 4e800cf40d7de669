package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/tool"
)

// SendMessageToolName is send_message's registry name, exported so callers
// like package group can recognize a routing tool_use block without a
// string literal.
const SendMessageToolName = "send_message"

// SendMessageTarget enumerates who/what send_message can address.
type SendMessageTarget string

const (
	TargetAgent    SendMessageTarget = "agent"
	TargetGroup    SendMessageTarget = "group"
	TargetUser     SendMessageTarget = "user"
	TargetDataSink SendMessageTarget = "data-sink"
)

// SendMessageTool is the send_message built-in tool. It is
// never retried automatically: a partial delivery (e.g. to three of four
// group members) must not be replayed wholesale, so it reports
// HasExternalEffect and the engine treats any failed call as a committed
// effect that stops the batch for recovery rather than a retryable error.
type SendMessageTool struct{}

// NewSendMessageTool creates the send_message built-in.
func NewSendMessageTool() *SendMessageTool {
	return &SendMessageTool{}
}

func (t *SendMessageTool) Name() string { return SendMessageToolName }

// HasExternalEffect reports true: delivery to a user or data sink leaves
// the store once it succeeds and must not be retried blind.
func (t *SendMessageTool) HasExternalEffect() bool { return true }

func (t *SendMessageTool) Description() string {
	return "Send content to another agent, a group, the user, or an external data sink. Never retried automatically."
}

func (t *SendMessageTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"target": {
				Type:        "string",
				Description: "Who or what to deliver to.",
				Enum:        []string{string(TargetAgent), string(TargetGroup), string(TargetUser), string(TargetDataSink)},
			},
			"id": {
				Type:        "string",
				Description: "The target's id: an agent id for target=agent, a group id for target=group. Ignored for target=user/data-sink.",
			},
			"content": {
				Type:        "string",
				Description: "The message content to deliver.",
			},
		},
		Required: []string{"target", "content"},
	}
}

type sendMessageInput struct {
	Target  SendMessageTarget `json:"target"`
	ID      string            `json:"id"`
	Content string            `json:"content"`
}

func (t *SendMessageTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params sendMessageInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", tool.ToolDiscard(fmt.Errorf("invalid input: %w", err))
	}
	if params.Content == "" {
		return "", tool.ToolDiscard(fmt.Errorf("content is required"))
	}

	h := tool.MustHandleFromContext(ctx)

	switch params.Target {
	case TargetAgent:
		targetID, err := id.ParseAgentID(params.ID)
		if err != nil {
			return "", tool.ToolDiscard(fmt.Errorf("invalid agent id: %w", err))
		}
		if err := deliverToAgent(ctx, h, targetID, h.AgentID, params.Content); err != nil {
			return "", fmt.Errorf("deliver to agent: %w", err)
		}
		return fmt.Sprintf("delivered to agent %s", targetID), nil

	case TargetGroup:
		groupID, err := id.ParseGroupID(params.ID)
		if err != nil {
			return "", tool.ToolDiscard(fmt.Errorf("invalid group id: %w", err))
		}
		members, err := h.Store.RelatedTo(ctx, "group", groupID.String(), "group_members")
		if err != nil {
			return "", fmt.Errorf("load group members: %w", err)
		}
		delivered := 0
		for _, edge := range members {
			toID, _ := edge["to_id"].(string)
			memberID, err := id.ParseAgentID(toID)
			if err != nil || memberID == h.AgentID {
				continue
			}
			if err := deliverToAgent(ctx, h, memberID, h.AgentID, params.Content); err != nil {
				continue
			}
			delivered++
		}
		return fmt.Sprintf("delivered to %d of %d group members", delivered, len(members)), nil

	case TargetUser, TargetDataSink:
		if h.Transport == nil {
			return "", tool.ToolDiscard(fmt.Errorf("no transport configured for target=%s", params.Target))
		}
		externalID, err := h.Transport.Deliver(ctx, params.ID, params.Content)
		if err != nil {
			return "", fmt.Errorf("transport delivery failed: %w", err)
		}
		return fmt.Sprintf("delivered, external_id=%s", externalID), nil

	default:
		return "", tool.ToolDiscard(fmt.Errorf("unknown target: %s", params.Target))
	}
}

// deliverToAgent writes content as a new inbound message on the recipient's
// log, the same mechanism an external caller uses to hand an agent work —
// agent-to-agent delivery is not a distinct wire path, just another
// producer of the recipient's message.Message stream.
func deliverToAgent(ctx context.Context, h tool.Handle, to, from id.AgentID, content string) error {
	// Position/BatchID are left zero: the recipient's engine allocates both
	// when it next picks this message up for processing, the same as any
	// other externally-arrived inbound message.
	msg := &message.Message{
		ID:      id.NewMessageID(),
		AgentID: to,
		Role:    message.RoleUser,
		Content: []message.ContentBlock{
			{Type: message.ContentTypeText, Text: content},
		},
		InContext: true,
		Metadata:  map[string]any{"from_agent_id": from.String()},
		CreatedAt: time.Now().UTC(),
	}
	_, err := h.Store.Create(ctx, "msg", msg.ID.String(), msg.ToRow())
	return err
}

// ParseSendMessageAgentTarget extracts the recipient agent id from a
// send_message tool call's raw input, for callers (package group's
// Supervisor/Dynamic routing) that need to follow a routing call without
// re-executing the tool. Returns ok=false for any non-agent target or
// malformed input.
func ParseSendMessageAgentTarget(input json.RawMessage) (id.AgentID, bool) {
	var params sendMessageInput
	if err := json.Unmarshal(input, &params); err != nil || params.Target != TargetAgent {
		return id.AgentID{}, false
	}
	targetID, err := id.ParseAgentID(params.ID)
	if err != nil {
		return id.AgentID{}, false
	}
	return targetID, true
}
