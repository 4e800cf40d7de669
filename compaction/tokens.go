package compaction

import "github.com/youssefsiam38/pattern/message"

// ApproximateTokens estimates a token count from character count at
// roughly 4 characters per token for English text — the same rule of
// thumb message.Message.EstimateTokens uses.
func ApproximateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := (len(text) + 3) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// SumTokens totals the cheap per-message estimate across messages.
func SumTokens(messages []*message.Message) int {
	total := 0
	for _, m := range messages {
		total += m.EstimateTokens()
	}
	return total
}
