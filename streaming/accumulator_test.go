package streaming

import (
	"testing"

	"github.com/youssefsiam38/pattern/message"
)

func TestBuildContentBlocks_EmptyToolInput(t *testing.T) {
	tests := []struct {
		name           string
		toolInputStr   string
		wantRaw        string
		wantInputEmpty bool
	}{
		{
			name:           "empty tool input defaults to empty object",
			toolInputStr:   "",
			wantRaw:        "{}",
			wantInputEmpty: true,
		},
		{
			name:           "valid tool input preserved",
			toolInputStr:   `{"key":"value"}`,
			wantRaw:        `{"key":"value"}`,
			wantInputEmpty: false,
		},
		{
			name:           "empty object input preserved",
			toolInputStr:   "{}",
			wantRaw:        "{}",
			wantInputEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()

			// Simulate a tool use block
			block := &ContentBlock{
				Type:     "tool_use",
				Index:    0,
				ToolID:   "test-id",
				ToolName: "test_tool",
			}
			block.ToolInput.WriteString(tt.toolInputStr)

			acc.content = append(acc.content, *block)

			// Build content blocks
			result := acc.buildContentBlocks()

			if len(result) != 1 {
				t.Fatalf("expected 1 block, got %d", len(result))
			}

			mcb := result[0]

			// Check raw JSON
			if string(mcb.ToolInputRaw) != tt.wantRaw {
				t.Errorf("ToolInputRaw = %q, want %q", string(mcb.ToolInputRaw), tt.wantRaw)
			}

			// Check parsed input
			if tt.wantInputEmpty {
				if len(mcb.ToolInput) != 0 {
					t.Errorf("expected empty ToolInput map, got %v", mcb.ToolInput)
				}
			} else {
				if len(mcb.ToolInput) == 0 {
					t.Error("expected non-empty ToolInput map")
				}
			}
		})
	}
}

func TestMessage_ToPatternMessage(t *testing.T) {
	m := &Message{
		ID: "msg_1",
		Content: []MessageContentBlock{
			{Type: "text", Text: "hello"},
			{Type: "tool_use", ToolUseID: "tu_1", ToolName: "search", ToolInputRaw: []byte(`{"q":"x"}`)},
		},
		Usage: Usage{InputTokens: 10, OutputTokens: 5},
	}

	got := m.ToPatternMessage()

	if got.Role != message.RoleAssistant {
		t.Errorf("Role = %q, want assistant", got.Role)
	}
	if len(got.Content) != 2 {
		t.Fatalf("len(Content) = %d, want 2", len(got.Content))
	}
	if got.Content[0].Type != message.ContentTypeText || got.Content[0].Text != "hello" {
		t.Errorf("Content[0] = %+v", got.Content[0])
	}
	if got.Content[1].Type != message.ContentTypeToolUse || got.Content[1].ToolName != "search" {
		t.Errorf("Content[1] = %+v", got.Content[1])
	}
	if got.Usage.InputTokens != 10 || got.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v", got.Usage)
	}
	if got.Metadata["anthropic_message_id"] != "msg_1" {
		t.Errorf("Metadata = %+v", got.Metadata)
	}
}

func TestMessage_ToPatternMessage_EmptyToolInputDefaultsToObject(t *testing.T) {
	m := &Message{
		Content: []MessageContentBlock{{Type: "tool_use", ToolName: "noop"}},
		Usage:   Usage{},
	}
	got := m.ToPatternMessage()
	if string(got.Content[0].ToolInputRaw) != "{}" {
		t.Errorf("ToolInputRaw = %q, want {}", got.Content[0].ToolInputRaw)
	}
}
