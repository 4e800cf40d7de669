// Package builtin implements the minimum built-in tool set every agent
// registers: update_memory, search, send_message, context, data_source.
// Each tool pulls its agent-scoped handle from context via
// tool.MustHandleFromContext rather than holding a reference to the
// engine, matching the common agentToolWrapper pattern of depending
// only on what a single call needs.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/tool"
)

// UpdateMemoryOperation enumerates the write modes update_memory supports.
type UpdateMemoryOperation string

const (
	MemoryOpReplace UpdateMemoryOperation = "replace"
	MemoryOpAppend  UpdateMemoryOperation = "append"
	MemoryOpArchive UpdateMemoryOperation = "archive"
)

// UpdateMemoryTool lets an agent edit its own core/recall blocks or file a
// new archival block.
type UpdateMemoryTool struct{}

// NewUpdateMemoryTool creates the update_memory built-in.
func NewUpdateMemoryTool() *UpdateMemoryTool {
	return &UpdateMemoryTool{}
}

func (t *UpdateMemoryTool) Name() string { return "update_memory" }

func (t *UpdateMemoryTool) Description() string {
	return "Replace, append to, or archive one of the calling agent's memory blocks."
}

func (t *UpdateMemoryTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"label": {
				Type:        "string",
				Description: "Which memory block to operate on (e.g. \"persona\", \"human\"). Ignored for archive, which always creates a new block.",
			},
			"operation": {
				Type:        "string",
				Description: "replace overwrites the block's content; append adds content idempotently; archive files new searchable long-term content.",
				Enum:        []string{string(MemoryOpReplace), string(MemoryOpAppend), string(MemoryOpArchive)},
			},
			"content": {
				Type:        "string",
				Description: "The text to write.",
			},
		},
		Required: []string{"operation", "content"},
	}
}

type updateMemoryInput struct {
	Label     string                `json:"label"`
	Operation UpdateMemoryOperation `json:"operation"`
	Content   string                `json:"content"`
}

func (t *UpdateMemoryTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params updateMemoryInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", tool.ToolDiscard(fmt.Errorf("invalid input: %w", err))
	}

	h := tool.MustHandleFromContext(ctx)

	switch params.Operation {
	case MemoryOpArchive:
		label := params.Label
		if label == "" {
			label = "note"
		}
		block, err := h.Memory.CreateArchival(ctx, h.OwnerID, label, params.Content)
		if err != nil {
			return "", fmt.Errorf("archive memory: %w", err)
		}
		return fmt.Sprintf("archived block %s", block.ID), nil

	case MemoryOpReplace:
		blocks, err := h.Memory.CoreBlocksFor(ctx, h.AgentID)
		if err != nil {
			return "", fmt.Errorf("load core blocks: %w", err)
		}
		block := findBlockByLabel(blocks, params.Label)
		if block == nil {
			return "", tool.ToolDiscard(fmt.Errorf("no core block with label %q attached to this agent", params.Label))
		}
		updated, err := h.Memory.Replace(ctx, block.ID, params.Content)
		if err != nil {
			if perrors.Is(err, perrors.ErrMemoryLimitExceeded) {
				return "", tool.ToolDiscard(err)
			}
			return "", fmt.Errorf("replace block: %w", err)
		}
		return fmt.Sprintf("replaced block %s (%d chars)", updated.ID, updated.Len()), nil

	case MemoryOpAppend:
		blocks, err := h.Memory.CoreBlocksFor(ctx, h.AgentID)
		if err != nil {
			return "", fmt.Errorf("load core blocks: %w", err)
		}
		block := findBlockByLabel(blocks, params.Label)
		if block == nil {
			return "", tool.ToolDiscard(fmt.Errorf("no core block with label %q attached to this agent", params.Label))
		}
		updated, result, err := h.Memory.Append(ctx, block.ID, params.Content)
		if err != nil {
			if perrors.Is(err, perrors.ErrMemoryLimitExceeded) {
				return "", tool.ToolDiscard(err)
			}
			return "", fmt.Errorf("append to block: %w", err)
		}
		switch result.Outcome {
		case memory.AppendAlreadyPresent:
			return fmt.Sprintf("block %s already contains this content, no change made", updated.ID), nil
		case memory.AppendResumedPartial:
			return fmt.Sprintf("appended to block %s (%d chars, skipped %d overlapping chars)", updated.ID, updated.Len(), result.Skipped), nil
		default:
			return fmt.Sprintf("appended to block %s (%d chars)", updated.ID, updated.Len()), nil
		}

	default:
		return "", tool.ToolDiscard(fmt.Errorf("unknown operation: %s", params.Operation))
	}
}

func findBlockByLabel(blocks []*memory.Block, label string) *memory.Block {
	for _, b := range blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}
