// Package anthropic converts between pattern's message types and the
// anthropic-sdk-go wire format. Kept as its own internal package so
// model.AnthropicProvider stays a thin orchestration layer over this
// conversion logic.
package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/youssefsiam38/pattern/message"
)

// ConvertToAnthropicMessages converts pattern messages to Anthropic message parameters.
func ConvertToAnthropicMessages(messages []*message.Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == message.RoleSystem {
			continue
		}

		contentBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, block := range msg.Content {
			contentBlocks = append(contentBlocks, convertContentBlock(block))
		}

		params = append(params, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: contentBlocks,
		})
	}

	return params
}

func convertContentBlock(block message.ContentBlock) anthropic.ContentBlockParamUnion {
	switch block.Type {
	case message.ContentTypeText:
		return anthropic.NewTextBlock(block.Text)

	case message.ContentTypeToolUse:
		var input any
		if len(block.ToolInputRaw) > 0 {
			_ = json.Unmarshal(block.ToolInputRaw, &input)
		} else if block.ToolInput != nil {
			input = block.ToolInput
		}
		if input == nil {
			input = map[string]any{}
		}
		return anthropic.NewToolUseBlock(block.ToolUseID, input, block.ToolName)

	case message.ContentTypeToolResult:
		return anthropic.NewToolResultBlock(block.ToolResultID, block.ToolContent, block.IsError)

	case message.ContentTypeImage:
		if block.ImageSource != nil {
			switch block.ImageSource.Type {
			case "base64":
				return anthropic.NewImageBlockBase64(block.ImageSource.MediaType, block.ImageSource.Data)
			case "url":
				return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: block.ImageSource.URL})
			}
		}

	case message.ContentTypeDocument:
		if block.DocumentSource != nil {
			return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
				MediaType: "application/pdf",
				Data:      block.DocumentSource.Data,
			})
		}
	}

	return anthropic.NewTextBlock("")
}

// ConvertFromAnthropicMessage converts an Anthropic response message into a
// pattern message.Message, leaving ID/AgentID/Position/BatchID for the
// caller to assign.
func ConvertFromAnthropicMessage(resp *anthropic.Message) *message.Message {
	blocks := make([]message.ContentBlock, 0, len(resp.Content))
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, message.ContentBlock{Type: message.ContentTypeText, Text: variant.Text})
		case anthropic.ToolUseBlock:
			raw, _ := json.Marshal(variant.Input)
			blocks = append(blocks, message.ContentBlock{
				Type:         message.ContentTypeToolUse,
				ToolUseID:    variant.ID,
				ToolName:     variant.Name,
				ToolInputRaw: raw,
			})
		}
	}

	return &message.Message{
		Role:    message.RoleAssistant,
		Content: blocks,
		Usage: &message.Usage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		},
		Metadata: map[string]any{"anthropic_message_id": resp.ID},
	}
}

// ExtractToolCalls extracts tool calls from content blocks.
func ExtractToolCalls(content []message.ContentBlock) []message.ToolCall {
	var calls []message.ToolCall
	for _, block := range content {
		if block.Type == message.ContentTypeToolUse {
			calls = append(calls, message.ToolCall{ID: block.ToolUseID, Name: block.ToolName, Input: block.ToolInputRaw})
		}
	}
	return calls
}

// BuildSystemPrompt creates system prompt blocks.
func BuildSystemPrompt(systemPrompt string) []anthropic.TextBlockParam {
	return []anthropic.TextBlockParam{{Type: "text", Text: systemPrompt}}
}

// CreateToolResultBlocks builds tool_result content blocks pairing each
// call with its outcome.
func CreateToolResultBlocks(calls []message.ToolCall, results []string, errs []error) []message.ContentBlock {
	blocks := make([]message.ContentBlock, 0, len(calls))
	for i, call := range calls {
		isError := false
		content := ""
		if i < len(errs) && errs[i] != nil {
			isError = true
			content = fmt.Sprintf("Error executing tool: %v", errs[i])
		} else if i < len(results) {
			content = results[i]
		}
		blocks = append(blocks, message.ContentBlock{
			Type:         message.ContentTypeToolResult,
			ToolResultID: call.ID,
			ToolContent:  content,
			IsError:      isError,
		})
	}
	return blocks
}

// IsMaxTokensError checks if an error is a max_tokens error.
func IsMaxTokensError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	errStr := apiErr.Error()
	return containsAt(errStr, "max_tokens") || containsAt(errStr, "context_length") || containsAt(errStr, "token limit")
}

// IsRetryableError checks if an error should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
}

func containsAt(s, substr string) bool {
	if len(substr) == 0 || len(s) < len(substr) {
		return len(substr) == 0
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
