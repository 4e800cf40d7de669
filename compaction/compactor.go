// Package compaction implements context-window compaction:
// once an agent's in-context message history crosses a token threshold, it
// is partitioned into protected/recent/compactable zones and the
// compactable zone is either pruned (cheap) or summarized by the model,
// with the summary written into a recall memory.Block rather than a
// synthetic chat message — so compaction history lives in the same place
// every other piece of long-term memory does.
package compaction

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/store"
)

// Logger is the minimal structured-logging surface Compactor needs,
// satisfied directly by an hclog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Result summarizes one Compact call.
type Result struct {
	AgentID         id.AgentID
	Strategy        Strategy
	OriginalTokens  int
	CompactedTokens int
	MessagesRemoved int
	RecallBlockID   *id.MemoryBlockID
	Duration        time.Duration
}

// Stats reports an agent's current context usage.
type Stats struct {
	AgentID         id.AgentID
	TotalMessages   int
	TotalTokens     int
	UsagePercent    float64
	NeedsCompaction bool
}

// Compactor runs compaction passes for agents against a store.Store and
// writes its summaries through a memory.Manager.
type Compactor struct {
	store           store.Store
	memory          *memory.Manager
	config          *Config
	tokenCounter    *TokenCounter
	strategyFactory *StrategyFactory
	partitioner     *Partitioner
	logger          Logger
}

// New builds a Compactor. anthropicClient may be nil, in which case token
// counting always uses the character approximation.
func New(s store.Store, mem *memory.Manager, provider model.Provider, anthropicClient *anthropic.Client, config *Config) *Compactor {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()

	tokenCounter := NewTokenCounter(anthropicClient, config.SummarizerModel, config.UseTokenCountingAPI)
	summarizer := NewSummarizer(provider, config.SummarizerModel, config.SummarizerMaxTokens)

	return &Compactor{
		store:           s,
		memory:          mem,
		config:          config,
		tokenCounter:    tokenCounter,
		strategyFactory: NewStrategyFactory(config, tokenCounter, summarizer),
		partitioner:     NewPartitioner(tokenCounter, config),
		logger:          noopLogger{},
	}
}

// SetLogger overrides the no-op default logger.
func (c *Compactor) SetLogger(l Logger) { c.logger = l }

// NeedsCompaction reports whether agentID's in-context history exceeds the
// configured trigger threshold.
func (c *Compactor) NeedsCompaction(ctx context.Context, agentID id.AgentID) (bool, error) {
	messages, err := c.inContextMessages(ctx, agentID)
	if err != nil {
		return false, err
	}
	return SumTokens(messages) >= c.config.TriggerThreshold(), nil
}

// GetStats returns agentID's current context usage.
func (c *Compactor) GetStats(ctx context.Context, agentID id.AgentID) (*Stats, error) {
	messages, err := c.inContextMessages(ctx, agentID)
	if err != nil {
		return nil, err
	}
	total := SumTokens(messages)
	return &Stats{
		AgentID:         agentID,
		TotalMessages:   len(messages),
		TotalTokens:     total,
		UsagePercent:    float64(total) / float64(c.config.MaxTokensForModel) * 100,
		NeedsCompaction: total >= c.config.TriggerThreshold(),
	}, nil
}

// CompactIfNeeded runs Compact only if NeedsCompaction reports true. It
// returns a nil Result (no error) when no compaction was needed.
func (c *Compactor) CompactIfNeeded(ctx context.Context, agentID id.AgentID, ownerID id.UserID) (*Result, error) {
	needed, err := c.NeedsCompaction(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}
	return c.Compact(ctx, agentID, ownerID)
}

// Compact partitions agentID's in-context history and runs the configured
// strategy against the compactable zone. ownerID identifies the user the
// resulting recall block (if any) is filed under and shared back to the
// agent.
func (c *Compactor) Compact(ctx context.Context, agentID id.AgentID, ownerID id.UserID) (*Result, error) {
	messages, err := c.inContextMessages(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, perrors.ForAgent("compaction.Compact", agentID, perrors.ErrNoMessagesToCompact)
	}

	partition, err := c.partitioner.Partition(ctx, messages)
	if err != nil {
		return nil, perrors.ForAgent("compaction.Compact", agentID, err)
	}
	if !partition.CanCompact() {
		return nil, perrors.ForAgent("compaction.Compact", agentID, perrors.ErrNoMessagesToCompact)
	}

	originalTokens := SumTokens(messages)
	strategy := c.strategyFactory.Create()
	result, err := strategy.Execute(ctx, partition)
	if err != nil {
		return nil, perrors.ForAgent("compaction.Compact", agentID, err)
	}

	var recallID *id.MemoryBlockID
	if result.SummaryText != "" && len(result.ArchivedMessageIDs) > 0 {
		label := "compaction_" + time.Now().UTC().Format("20060102T150405")
		block, err := c.memory.CreateRecall(ctx, ownerID, label, result.SummaryText)
		if err != nil {
			return nil, perrors.ForAgent("compaction.Compact", agentID, err)
		}
		if err := c.memory.AttachToAgent(ctx, block.ID, agentID, "read_only"); err != nil {
			return nil, perrors.ForAgent("compaction.Compact", agentID, err)
		}
		recallID = &block.ID
	}

	if err := c.applyStrategyResult(ctx, partition, result); err != nil {
		return nil, perrors.ForAgent("compaction.Compact", agentID, err)
	}

	return &Result{
		AgentID:         agentID,
		Strategy:        strategy.Name(),
		OriginalTokens:  originalTokens,
		CompactedTokens: result.TokensAfter,
		MessagesRemoved: len(result.ArchivedMessageIDs),
		RecallBlockID:   recallID,
		Duration:        result.Duration,
	}, nil
}

// applyStrategyResult persists the strategy's effect: either marking
// archived messages out of context, or, for a prune-only hybrid pass,
// rewriting the compactable messages' content in place.
func (c *Compactor) applyStrategyResult(ctx context.Context, partition *MessagePartition, result *StrategyResult) error {
	if len(result.ArchivedMessageIDs) > 0 {
		for _, msgID := range result.ArchivedMessageIDs {
			if _, err := c.store.UpdateMerge(ctx, "msg", msgID.String(), store.Row{"in_context": false}); err != nil {
				return err
			}
		}
		return nil
	}

	if result.SummaryText == "[tool outputs pruned]" {
		pruned := PrunedContent(partition.Compactable)
		for _, m := range pruned {
			if _, err := c.store.UpdateMerge(ctx, "msg", m.ID.String(), store.Row{"content": m.Content}); err != nil {
				return err
			}
		}
	}
	return nil
}

// inContextMessages fetches agentID's current in-context history ordered
// oldest-first.
func (c *Compactor) inContextMessages(ctx context.Context, agentID id.AgentID) ([]*message.Message, error) {
	const stmt = "SELECT * FROM msg WHERE agent_id = :agent_id AND in_context = true ORDER BY position ASC"
	var rows store.ResultSet
	if err := c.store.QueryMany(ctx, stmt, map[string]any{"agent_id": agentID.String()}, &rows); err != nil {
		return nil, err
	}

	messages := make([]*message.Message, 0, len(rows))
	for _, row := range rows {
		m, err := message.FromRow(row)
		if err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}
