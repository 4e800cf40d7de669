package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/youssefsiam38/pattern/message"
)

func TestConvertContentBlock_ToolUseEmptyInput(t *testing.T) {
	tests := []struct {
		name  string
		block message.ContentBlock
	}{
		{
			name: "nil ToolInput and empty ToolInputRaw defaults to empty object",
			block: message.ContentBlock{
				Type:         message.ContentTypeToolUse,
				ToolUseID:    "test-id",
				ToolName:     "test_tool",
				ToolInput:    nil,
				ToolInputRaw: nil,
			},
		},
		{
			name: "empty ToolInputRaw defaults to empty object",
			block: message.ContentBlock{
				Type:         message.ContentTypeToolUse,
				ToolUseID:    "test-id",
				ToolName:     "test_tool",
				ToolInput:    nil,
				ToolInputRaw: json.RawMessage(""),
			},
		},
		{
			name: "valid ToolInputRaw preserved",
			block: message.ContentBlock{
				Type:         message.ContentTypeToolUse,
				ToolUseID:    "test-id",
				ToolName:     "test_tool",
				ToolInput:    nil,
				ToolInputRaw: json.RawMessage(`{"key":"value"}`),
			},
		},
		{
			name: "ToolInput map used when ToolInputRaw is empty",
			block: message.ContentBlock{
				Type:         message.ContentTypeToolUse,
				ToolUseID:    "test-id",
				ToolName:     "test_tool",
				ToolInput:    map[string]any{"foo": "bar"},
				ToolInputRaw: nil,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The key behavior under test: this must not panic when
			// ToolInput is nil or ToolInputRaw is empty — previously that
			// passed a nil input to NewToolUseBlock, which the API rejects.
			_ = convertContentBlock(tt.block)
		})
	}
}

func TestConvertToAnthropicMessages_WithToolUse(t *testing.T) {
	messages := []*message.Message{
		{
			Role: message.RoleAssistant,
			Content: []message.ContentBlock{
				{
					Type:         message.ContentTypeToolUse,
					ToolUseID:    "tool-123",
					ToolName:     "list_tasks",
					ToolInput:    nil,
					ToolInputRaw: nil,
				},
			},
		},
	}

	result := ConvertToAnthropicMessages(messages)

	if len(result) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result))
	}
	if len(result[0].Content) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(result[0].Content))
	}
}
