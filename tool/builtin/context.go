package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/tool"
)

// ContextOperation enumerates what the context built-in does.
type ContextOperation string

const (
	ContextOpRead  ContextOperation = "read"
	ContextOpWrite ContextOperation = "write"
)

// ContextTool is the context built-in tool: read/write access
// to blocks shared across a group, enforced by the calling agent's
// agent_memories access_level edge to that specific block (the same edge
// memory.Manager.AttachToAgent records) rather than a blanket
// group-membership grant.
type ContextTool struct{}

// NewContextTool creates the context built-in.
func NewContextTool() *ContextTool {
	return &ContextTool{}
}

func (t *ContextTool) Name() string { return "context" }

func (t *ContextTool) Description() string {
	return "Read or write a memory block shared across the calling agent's group, subject to access-level enforcement."
}

func (t *ContextTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"operation": {
				Type:        "string",
				Description: "read returns the block's content; write overwrites it.",
				Enum:        []string{string(ContextOpRead), string(ContextOpWrite)},
			},
			"block_label": {
				Type:        "string",
				Description: "The label of the shared block to access.",
			},
			"content": {
				Type:        "string",
				Description: "New content for operation=write. Ignored for read.",
			},
		},
		Required: []string{"operation", "block_label"},
	}
}

type contextInput struct {
	Operation  ContextOperation `json:"operation"`
	BlockLabel string           `json:"block_label"`
	Content    string           `json:"content"`
}

func (t *ContextTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params contextInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", tool.ToolDiscard(fmt.Errorf("invalid input: %w", err))
	}

	h := tool.MustHandleFromContext(ctx)

	block, accessLevel, err := findSharedBlock(ctx, h, params.BlockLabel)
	if err != nil {
		return "", err
	}

	switch params.Operation {
	case ContextOpRead:
		return block.Content, nil

	case ContextOpWrite:
		if accessLevel != "write" && accessLevel != "admin" {
			return "", tool.ToolCancel(fmt.Errorf("%w: agent has %q access to block %q, need write or admin",
				perrors.ErrPermissionDenied, accessLevel, params.BlockLabel))
		}
		updated, err := h.Memory.Replace(ctx, block.ID, params.Content)
		if err != nil {
			if perrors.Is(err, perrors.ErrMemoryLimitExceeded) {
				return "", tool.ToolDiscard(err)
			}
			return "", fmt.Errorf("write shared block: %w", err)
		}
		return fmt.Sprintf("wrote shared block %s (%d chars)", updated.ID, updated.Len()), nil

	default:
		return "", tool.ToolDiscard(fmt.Errorf("unknown operation: %s", params.Operation))
	}
}

// findSharedBlock locates the block with the given label among every
// group this agent belongs to, returning the agent's own access_level for
// it (read if the agent can see it only via group membership, with no
// individual attachment edge).
func findSharedBlock(ctx context.Context, h tool.Handle, label string) (*memory.Block, string, error) {
	memberships, err := h.Store.RelatedFrom(ctx, "agent", h.AgentID.String(), "group_members")
	if err != nil {
		return nil, "", fmt.Errorf("load group memberships: %w", err)
	}

	for _, membership := range memberships {
		groupIDStr, _ := membership["from_id"].(string)
		groupID, err := id.ParseGroupID(groupIDStr)
		if err != nil {
			continue
		}

		shared, err := h.Store.RelatedTo(ctx, "group", groupID.String(), "group_shared_blocks")
		if err != nil {
			continue
		}
		for _, edge := range shared {
			blockIDStr, _ := edge["to_id"].(string)
			blockID, err := id.ParseMemoryBlockID(blockIDStr)
			if err != nil {
				continue
			}
			block, err := h.Memory.Get(ctx, blockID)
			if err != nil || block.Label != label {
				continue
			}
			return block, accessLevelFor(ctx, h, blockID), nil
		}
	}

	return nil, "", tool.ToolDiscard(fmt.Errorf("no shared block with label %q visible to this agent", label))
}

// accessLevelFor returns the calling agent's own agent_memories access
// level for blockID, or "read" if it has no individual attachment edge
// (visible only via group membership).
func accessLevelFor(ctx context.Context, h tool.Handle, blockID id.MemoryBlockID) string {
	edges, err := h.Store.RelatedTo(ctx, "agent", h.AgentID.String(), "agent_memories")
	if err != nil {
		return "read"
	}
	for _, edge := range edges {
		if toID, _ := edge["to_id"].(string); toID == blockID.String() {
			if level, ok := edge["access_level"].(string); ok && level != "" {
				return level
			}
		}
	}
	return "read"
}
