package compaction

import (
	"context"
	"time"

	"github.com/youssefsiam38/pattern/message"
)

// HybridStrategy prunes verbose tool outputs outside the protected zone
// first (free, no model call); if that alone reaches TargetTokens it stops
// there, otherwise it falls through to summarizing what's left. The
// recommended default strategy since pruning is usually sufficient.
type HybridStrategy struct {
	summarizer   *Summarizer
	tokenCounter *TokenCounter
	config       *Config
}

// NewHybridStrategy builds a HybridStrategy.
func NewHybridStrategy(summarizer *Summarizer, tokenCounter *TokenCounter, config *Config) *HybridStrategy {
	return &HybridStrategy{summarizer: summarizer, tokenCounter: tokenCounter, config: config}
}

func (h *HybridStrategy) Name() Strategy { return StrategyHybrid }

func (h *HybridStrategy) Execute(ctx context.Context, partition *MessagePartition) (*StrategyResult, error) {
	start := time.Now()

	if h.config.PreserveToolOutputs {
		return h.summarize(ctx, partition, start)
	}

	prunedTokens, toolOutputTokens := h.pruneEstimate(partition.Compactable)
	if toolOutputTokens < defaultPruneMinimum {
		return h.summarize(ctx, partition, start)
	}

	remaining := partition.Stats.ProtectedTokens + partition.Stats.RecentTokens + prunedTokens
	if remaining > h.config.TargetTokens {
		return h.summarize(ctx, partition, start)
	}

	return &StrategyResult{
		SummaryText:        "[tool outputs pruned]",
		ArchivedMessageIDs: nil, // pruning rewrites content in place, nothing is archived
		TokensRemoved:      partition.Stats.CompactableTokens - prunedTokens,
		TokensAfter:        remaining,
		Duration:           time.Since(start),
	}, nil
}

func (h *HybridStrategy) summarize(ctx context.Context, partition *MessagePartition, start time.Time) (*StrategyResult, error) {
	result, err := NewSummarizationStrategy(h.summarizer, h.tokenCounter).Execute(ctx, partition)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

// pruneEstimate returns the compactable-set token count after replacing
// every tool_result block's content with a fixed placeholder, and the
// tool-output token count found (used to decide whether pruning is worth
// doing at all).
func (h *HybridStrategy) pruneEstimate(messages []*message.Message) (prunedTokens, toolOutputTokens int) {
	const prunedMarkerTokens = 4
	for _, m := range messages {
		for _, b := range m.Content {
			switch b.Type {
			case message.ContentTypeToolResult:
				toolOutputTokens += ApproximateTokens(b.ToolContent)
				prunedTokens += prunedMarkerTokens
			case message.ContentTypeText:
				prunedTokens += ApproximateTokens(b.Text)
			case message.ContentTypeToolUse:
				prunedTokens += 50 + len(b.ToolName)
			}
		}
		prunedTokens += 4
	}
	return prunedTokens, toolOutputTokens
}

// PrunedContent returns a copy of messages with tool_result content
// replaced by a placeholder, for a caller that wants the pruned messages
// themselves (rather than just the token estimate) to keep in context.
func PrunedContent(messages []*message.Message) []*message.Message {
	out := make([]*message.Message, len(messages))
	for i, m := range messages {
		cp := *m
		cp.Content = make([]message.ContentBlock, len(m.Content))
		copy(cp.Content, m.Content)
		for j, b := range cp.Content {
			if b.Type == message.ContentTypeToolResult && b.ToolContent != "" {
				cp.Content[j].ToolContent = "[TOOL OUTPUT PRUNED]"
				cp.Content[j].IsError = false
			}
		}
		out[i] = &cp
	}
	return out
}
