// Package message defines the wire-agnostic message and content-block
// types that flow between an agent's context window, its model provider,
// and the store. Every message belongs to exactly one agent, carries a
// monotonic Position (internal/snowflake), and is tagged with the BatchID
// of the processing batch that produced it.
package message

import (
	"encoding/json"
	"time"

	"github.com/youssefsiam38/pattern/id"
)

// Role identifies who or what produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentType discriminates the union of block kinds a message may carry.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
	ContentTypeImage      ContentType = "image"
	ContentTypeDocument   ContentType = "document"
	ContentTypeReasoning  ContentType = "reasoning"
)

// ImageSource describes where image bytes for a ContentBlock come from.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// DocumentSource describes a PDF document attachment.
type DocumentSource struct {
	Data string `json:"data"`
}

// ContentBlock is one union member of a Message's content. Only the fields
// relevant to Type are populated; the rest are left zero. This flat-struct
// union (rather than an interface-per-kind) matches how the block travels
// through JSONB storage and the model wire format alike.
type ContentBlock struct {
	Type ContentType `json:"type"`

	Text string `json:"text,omitempty"`

	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolInput    map[string]any  `json:"tool_input,omitempty"`
	ToolInputRaw json.RawMessage `json:"tool_input_raw,omitempty"`

	ToolResultID string `json:"tool_result_id,omitempty"`
	ToolContent  string `json:"tool_content,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`

	ImageSource    *ImageSource    `json:"image_source,omitempty"`
	DocumentSource *DocumentSource `json:"document_source,omitempty"`

	Reasoning string `json:"reasoning,omitempty"`
}

// Usage tallies token accounting for a model turn.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Message is one entry in an agent's message history.
type Message struct {
	ID        id.MessageID   `json:"id"`
	AgentID   id.AgentID     `json:"agent_id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Position  int64          `json:"position"`
	BatchID   int64          `json:"batch_id"`
	InContext bool           `json:"in_context"`
	Usage     *Usage         `json:"usage,omitempty"`
	Embedding []float32      `json:"-"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// HasToolCalls reports whether any content block is a tool_use.
func (m *Message) HasToolCalls() bool {
	for _, b := range m.Content {
		if b.Type == ContentTypeToolUse {
			return true
		}
	}
	return false
}

// ToolCalls extracts every tool_use block as a ToolCall.
func (m *Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Content {
		if b.Type == ContentTypeToolUse {
			calls = append(calls, ToolCall{ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInputRaw})
		}
	}
	return calls
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Text concatenates every text block's content, for logging and summaries.
func (m *Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == ContentTypeText {
			out += b.Text
		}
	}
	return out
}

// EstimateTokens gives a rough (non-authoritative) token count, used only
// as a cheap pre-filter before an exact provider-side count.
func (m *Message) EstimateTokens() int {
	total := 0
	for _, b := range m.Content {
		switch b.Type {
		case ContentTypeText, ContentTypeReasoning:
			total += (len(b.Text) + len(b.Reasoning)) / 4
		case ContentTypeToolUse:
			total += 50 + len(b.ToolName) + len(b.ToolInputRaw)/4
		case ContentTypeToolResult:
			total += 20 + len(b.ToolContent)/4
		}
	}
	return total
}
