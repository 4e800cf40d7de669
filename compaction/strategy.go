package compaction

import (
	"context"
	"time"

	"github.com/youssefsiam38/pattern/id"
)

// StrategyExecutor is one compaction algorithm.
type StrategyExecutor interface {
	Name() Strategy
	Execute(ctx context.Context, partition *MessagePartition) (*StrategyResult, error)
}

// StrategyResult is what a StrategyExecutor produced.
type StrategyResult struct {
	// SummaryText is the generated summary. When a hybrid pass reaches the
	// target by pruning alone, it holds the marker "[tool outputs pruned]"
	// instead and ArchivedMessageIDs is empty.
	SummaryText string

	// ArchivedMessageIDs lists the messages that should be archived and
	// removed from the agent's active history.
	ArchivedMessageIDs []id.MessageID

	// TokensRemoved estimates how many tokens compaction freed.
	TokensRemoved int

	// TokensAfter estimates the token count remaining after compaction.
	TokensAfter int

	Duration time.Duration
}

// StrategyFactory builds the StrategyExecutor configured for a Config.
type StrategyFactory struct {
	config       *Config
	tokenCounter *TokenCounter
	summarizer   *Summarizer
}

// NewStrategyFactory builds a StrategyFactory.
func NewStrategyFactory(config *Config, tokenCounter *TokenCounter, summarizer *Summarizer) *StrategyFactory {
	return &StrategyFactory{config: config, tokenCounter: tokenCounter, summarizer: summarizer}
}

// Create returns the executor for f.config.Strategy, defaulting to hybrid
// for an unrecognized value.
func (f *StrategyFactory) Create() StrategyExecutor {
	switch f.config.Strategy {
	case StrategySummarization:
		return NewSummarizationStrategy(f.summarizer, f.tokenCounter)
	default:
		return NewHybridStrategy(f.summarizer, f.tokenCounter, f.config)
	}
}
