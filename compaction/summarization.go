package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/perrors"
)

// Summarizer calls a model.Provider to produce the structured summary text
// a compaction pass writes into a recall memory block.
type Summarizer struct {
	provider  model.Provider
	model     string
	maxTokens int
}

// NewSummarizer builds a Summarizer.
func NewSummarizer(provider model.Provider, modelName string, maxTokens int) *Summarizer {
	return &Summarizer{provider: provider, model: modelName, maxTokens: maxTokens}
}

// Summarize asks the configured model for a structured summary of messages.
func (s *Summarizer) Summarize(ctx context.Context, messages []*message.Message) (string, error) {
	conversationText := FormatMessagesAsText(toSummaryLines(messages))
	req := model.Request{
		Model:        s.model,
		SystemPrompt: SummarizationSystemPrompt,
		MaxTokens:    s.maxTokens,
		Messages: []*message.Message{
			{
				Role: message.RoleUser,
				Content: []message.ContentBlock{
					{Type: message.ContentTypeText, Text: BuildSummarizationUserPrompt(conversationText)},
				},
			},
		},
	}

	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", perrors.ErrSummarizationFailed, err)
	}
	return resp.Message.Text(), nil
}

func toSummaryLines(messages []*message.Message) []MessageForSummary {
	lines := make([]MessageForSummary, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, MessageForSummary{Role: string(m.Role), Content: formatContentBlocks(m.Content)})
	}
	return lines
}

func formatContentBlocks(blocks []message.ContentBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		switch block.Type {
		case message.ContentTypeText:
			b.WriteString(block.Text)
			b.WriteString("\n")
		case message.ContentTypeToolUse:
			inputJSON, _ := json.Marshal(block.ToolInput)
			fmt.Fprintf(&b, "[TOOL CALL: %s] input=%s\n", block.ToolName, inputJSON)
		case message.ContentTypeToolResult:
			fmt.Fprintf(&b, "[TOOL RESULT for %s] %s\n", block.ToolResultID, block.ToolContent)
		}
	}
	return b.String()
}

// SummarizationStrategy summarizes every compactable message into one
// recall-memory entry, replacing them outright.
type SummarizationStrategy struct {
	summarizer   *Summarizer
	tokenCounter *TokenCounter
}

// NewSummarizationStrategy builds a SummarizationStrategy.
func NewSummarizationStrategy(summarizer *Summarizer, tokenCounter *TokenCounter) *SummarizationStrategy {
	return &SummarizationStrategy{summarizer: summarizer, tokenCounter: tokenCounter}
}

func (s *SummarizationStrategy) Name() Strategy { return StrategySummarization }

func (s *SummarizationStrategy) Execute(ctx context.Context, partition *MessagePartition) (*StrategyResult, error) {
	if !partition.CanCompact() {
		return nil, perrors.New("compaction.Summarize", perrors.ErrNoMessagesToCompact)
	}

	start := time.Now()
	summary, err := s.summarizer.Summarize(ctx, partition.Compactable)
	if err != nil {
		return nil, err
	}

	summaryTokens := ApproximateTokens(summary)
	return &StrategyResult{
		SummaryText:        summary,
		ArchivedMessageIDs: partition.CompactableIDs(),
		TokensRemoved:      partition.Stats.CompactableTokens - summaryTokens,
		TokensAfter:        partition.Stats.ProtectedTokens + partition.Stats.RecentTokens + summaryTokens,
		Duration:           time.Since(start),
	}, nil
}
