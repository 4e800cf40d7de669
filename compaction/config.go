package compaction

import (
	"fmt"

	"github.com/youssefsiam38/pattern/perrors"
)

// Strategy selects which compaction algorithm a Compactor runs.
type Strategy string

const (
	// StrategySummarization asks the model for a structured summary of the
	// messages being removed.
	StrategySummarization Strategy = "summarization"

	// StrategyHybrid prunes verbose tool outputs first and only falls back
	// to summarization if pruning didn't reach the target. Cheaper in the
	// common case, so it's the default.
	StrategyHybrid Strategy = "hybrid"
)

// Default configuration values, carried over from the patterns this package
// is modeled on (Claude Code / OpenCode style context compaction).
const (
	DefaultStrategy            = StrategyHybrid
	DefaultTrigger             = 0.85
	DefaultTargetTokens        = 80000
	DefaultPreserveLastN       = 10
	DefaultProtectedTokens     = 40000
	DefaultSummarizerModel     = "claude-3-5-haiku-20241022"
	DefaultMaxTokensForModel   = 200000
	DefaultPreserveToolOutputs = false
	DefaultUseTokenCountingAPI = true
	DefaultSummarizerMaxTokens = 4096
	defaultPruneMinimum        = 1000
)

// Config holds compaction configuration for one Compactor.
type Config struct {
	// Strategy is the compaction strategy to use. Default: StrategyHybrid.
	Strategy Strategy

	// Trigger is the fraction (0,1] of MaxTokensForModel at which
	// NeedsCompaction starts reporting true. Default: 0.85.
	Trigger float64

	// TargetTokens is the token count Compact tries to reduce an agent's
	// in-context history to. Default: 80000.
	TargetTokens int

	// PreserveLastN is the minimum number of most recent messages never
	// summarized or removed. Default: 10.
	PreserveLastN int

	// ProtectedTokens is the token budget at the tail of history that is
	// never touched by pruning or summarization. Default: 40000.
	ProtectedTokens int

	// SummarizerModel is the model used to generate summaries. A smaller,
	// cheaper model than the agent's main model is recommended.
	SummarizerModel string

	// SummarizerMaxTokens bounds the summarization response.
	SummarizerMaxTokens int

	// MaxTokensForModel is the agent's model's context window, used to turn
	// Trigger into an absolute token count.
	MaxTokensForModel int

	// PreserveToolOutputs disables tool-output pruning during the hybrid
	// strategy's first pass when true.
	PreserveToolOutputs bool

	// UseTokenCountingAPI selects the model provider's exact token count
	// over the character-based approximation when true.
	UseTokenCountingAPI bool
}

// DefaultConfig returns a Config with the package defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Strategy:            DefaultStrategy,
		Trigger:             DefaultTrigger,
		TargetTokens:        DefaultTargetTokens,
		PreserveLastN:       DefaultPreserveLastN,
		ProtectedTokens:     DefaultProtectedTokens,
		SummarizerModel:     DefaultSummarizerModel,
		SummarizerMaxTokens: DefaultSummarizerMaxTokens,
		MaxTokensForModel:   DefaultMaxTokensForModel,
		PreserveToolOutputs: DefaultPreserveToolOutputs,
		UseTokenCountingAPI: DefaultUseTokenCountingAPI,
	}
}

// Validate reports whether c is internally consistent.
func (c *Config) Validate() error {
	if c.Strategy != StrategySummarization && c.Strategy != StrategyHybrid {
		return fmt.Errorf("%w: unknown strategy %q", perrors.ErrInvalidConfig, c.Strategy)
	}
	if c.Trigger <= 0 || c.Trigger > 1.0 {
		return fmt.Errorf("%w: trigger must be in (0,1], got %f", perrors.ErrInvalidConfig, c.Trigger)
	}
	if c.TargetTokens <= 0 {
		return fmt.Errorf("%w: target_tokens must be positive, got %d", perrors.ErrInvalidConfig, c.TargetTokens)
	}
	if c.PreserveLastN < 0 {
		return fmt.Errorf("%w: preserve_last_n must be non-negative, got %d", perrors.ErrInvalidConfig, c.PreserveLastN)
	}
	if c.ProtectedTokens < 0 {
		return fmt.Errorf("%w: protected_tokens must be non-negative, got %d", perrors.ErrInvalidConfig, c.ProtectedTokens)
	}
	if c.SummarizerModel == "" {
		return fmt.Errorf("%w: summarizer_model is required", perrors.ErrInvalidConfig)
	}
	if c.MaxTokensForModel <= 0 {
		return fmt.Errorf("%w: max_tokens_for_model must be positive, got %d", perrors.ErrInvalidConfig, c.MaxTokensForModel)
	}
	if c.SummarizerMaxTokens <= 0 {
		return fmt.Errorf("%w: summarizer_max_tokens must be positive, got %d", perrors.ErrInvalidConfig, c.SummarizerMaxTokens)
	}
	if c.TargetTokens >= c.MaxTokensForModel {
		return fmt.Errorf("%w: target_tokens (%d) must be less than max_tokens_for_model (%d)",
			perrors.ErrInvalidConfig, c.TargetTokens, c.MaxTokensForModel)
	}
	return nil
}

// ApplyDefaults fills zero-valued fields of c with package defaults.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = DefaultStrategy
	}
	if c.Trigger == 0 {
		c.Trigger = DefaultTrigger
	}
	if c.TargetTokens == 0 {
		c.TargetTokens = DefaultTargetTokens
	}
	if c.PreserveLastN == 0 {
		c.PreserveLastN = DefaultPreserveLastN
	}
	if c.ProtectedTokens == 0 {
		c.ProtectedTokens = DefaultProtectedTokens
	}
	if c.SummarizerModel == "" {
		c.SummarizerModel = DefaultSummarizerModel
	}
	if c.SummarizerMaxTokens == 0 {
		c.SummarizerMaxTokens = DefaultSummarizerMaxTokens
	}
	if c.MaxTokensForModel == 0 {
		c.MaxTokensForModel = DefaultMaxTokensForModel
	}
}

// TriggerThreshold returns the absolute token count above which
// NeedsCompaction reports true.
func (c *Config) TriggerThreshold() int {
	return int(float64(c.MaxTokensForModel) * c.Trigger)
}
