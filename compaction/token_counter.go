package compaction

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	internalanthropic "github.com/youssefsiam38/pattern/internal/anthropic"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/perrors"
)

// TokenCountResult is the outcome of a CountTokens call.
type TokenCountResult struct {
	// TotalTokens is the total token count across all messages.
	TotalTokens int

	// UsedAPI reports whether the model provider's token-counting endpoint
	// was used (true) or the character-based approximation (false).
	UsedAPI bool

	// PerMessage holds the estimated token count for each message, only
	// populated when the approximation path was used.
	PerMessage []int
}

// TokenCounter counts tokens for a message slice, preferring Anthropic's
// token-counting endpoint and falling back to character approximation if
// the API is unavailable or disabled.
type TokenCounter struct {
	client   *anthropic.Client
	model    string
	useAPI   bool
	fallback bool
}

// NewTokenCounter builds a TokenCounter. client may be nil, in which case
// only the approximation is used regardless of useAPI.
func NewTokenCounter(client *anthropic.Client, model string, useAPI bool) *TokenCounter {
	return &TokenCounter{client: client, model: model, useAPI: useAPI}
}

// CountTokens counts tokens across messages.
func (c *TokenCounter) CountTokens(ctx context.Context, messages []*message.Message) (*TokenCountResult, error) {
	if c.useAPI && c.client != nil && !c.fallback {
		result, err := c.countWithAPI(ctx, messages)
		if err == nil {
			return result, nil
		}
		c.fallback = true
	}
	return c.countWithApproximation(messages), nil
}

func (c *TokenCounter) countWithAPI(ctx context.Context, messages []*message.Message) (*TokenCountResult, error) {
	if len(messages) == 0 {
		return &TokenCountResult{UsedAPI: true}, nil
	}

	params, err := c.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(c.model),
		Messages: internalanthropic.ConvertToAnthropicMessages(messages),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrTimeout, err)
	}
	return &TokenCountResult{TotalTokens: int(params.InputTokens), UsedAPI: true}, nil
}

func (c *TokenCounter) countWithApproximation(messages []*message.Message) *TokenCountResult {
	perMsg := make([]int, len(messages))
	total := 0
	for i, m := range messages {
		perMsg[i] = m.EstimateTokens() + 4 // message structure overhead
		total += perMsg[i]
	}
	return &TokenCountResult{TotalTokens: total, PerMessage: perMsg}
}

// estimateMessageTokens is the single-message form countWithApproximation
// uses internally, exposed for the partitioner's fallback path.
func (c *TokenCounter) estimateMessageTokens(m *message.Message) int {
	return m.EstimateTokens() + 4
}
