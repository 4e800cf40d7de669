package compaction

import (
	"context"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/message"
)

// MessagePartition categorizes one agent's message history into mutually
// exclusive groups ahead of a compaction pass.
type MessagePartition struct {
	// Protected messages sit within the trailing ProtectedTokens budget and
	// are never touched.
	Protected []*message.Message

	// Preserved messages are outside the protected zone but still must
	// never be removed (currently: none are marked this way by the engine,
	// the field exists for forward compatibility with manual pinning).
	Preserved []*message.Message

	// Recent messages are the last PreserveLastN not already protected.
	Recent []*message.Message

	// Compactable messages are eligible for summarization and removal.
	Compactable []*message.Message

	Stats PartitionStats
}

// PartitionStats tallies estimated tokens per partition.
type PartitionStats struct {
	ProtectedTokens   int
	PreservedTokens   int
	RecentTokens      int
	CompactableTokens int
	TotalTokens       int
}

// CanCompact reports whether there is anything eligible to summarize.
func (p *MessagePartition) CanCompact() bool { return len(p.Compactable) > 0 }

// CompactableIDs returns the IDs of every compactable message.
func (p *MessagePartition) CompactableIDs() []id.MessageID {
	ids := make([]id.MessageID, len(p.Compactable))
	for i, m := range p.Compactable {
		ids[i] = m.ID
	}
	return ids
}

// AllPreservedIDs returns the IDs of everything that must survive
// compaction untouched: protected, preserved, and recent messages.
func (p *MessagePartition) AllPreservedIDs() []id.MessageID {
	ids := make([]id.MessageID, 0, len(p.Protected)+len(p.Preserved)+len(p.Recent))
	for _, m := range p.Protected {
		ids = append(ids, m.ID)
	}
	for _, m := range p.Preserved {
		ids = append(ids, m.ID)
	}
	for _, m := range p.Recent {
		ids = append(ids, m.ID)
	}
	return ids
}

// Partitioner splits a message history into partitions per Config.
type Partitioner struct {
	tokenCounter *TokenCounter
	config       *Config
}

// NewPartitioner builds a Partitioner.
func NewPartitioner(tokenCounter *TokenCounter, config *Config) *Partitioner {
	return &Partitioner{tokenCounter: tokenCounter, config: config}
}

// Partition categorizes messages, processing newest-first so the protected
// and recent zones are identified correctly before whatever remains falls
// to Compactable.
func (p *Partitioner) Partition(ctx context.Context, messages []*message.Message) (*MessagePartition, error) {
	if len(messages) == 0 {
		return &MessagePartition{}, nil
	}

	counted, err := p.tokenCounter.CountTokens(ctx, messages)
	if err != nil {
		return nil, err
	}
	perMessage := p.perMessageTokens(messages, counted)

	partition := &MessagePartition{}
	categorized := make(map[id.MessageID]bool, len(messages))

	protectedSum := 0
	for i := len(messages) - 1; i >= 0; i-- {
		tokens := perMessage[i]
		if protectedSum+tokens > p.config.ProtectedTokens {
			break
		}
		protectedSum += tokens
		categorized[messages[i].ID] = true
		partition.Protected = append([]*message.Message{messages[i]}, partition.Protected...)
		partition.Stats.ProtectedTokens += tokens
	}

	recentCount := 0
	for i := len(messages) - 1; i >= 0 && recentCount < p.config.PreserveLastN; i-- {
		if categorized[messages[i].ID] {
			continue
		}
		tokens := perMessage[i]
		categorized[messages[i].ID] = true
		partition.Recent = append([]*message.Message{messages[i]}, partition.Recent...)
		partition.Stats.RecentTokens += tokens
		recentCount++
	}

	for i, m := range messages {
		if categorized[m.ID] {
			continue
		}
		partition.Compactable = append(partition.Compactable, m)
		partition.Stats.CompactableTokens += perMessage[i]
	}

	partition.Stats.TotalTokens = counted.TotalTokens
	partition = adjustForToolPairs(partition, messages, categorized)
	return partition, nil
}

// adjustForToolPairs re-files any compactable message that is half of a
// tool_use/tool_result pair whose other half already landed in a protected
// or recent partition, so a pair is never split across the boundary.
func adjustForToolPairs(partition *MessagePartition, messages []*message.Message, categorized map[id.MessageID]bool) *MessagePartition {
	if len(partition.Compactable) == 0 {
		return partition
	}

	keep := make(map[id.MessageID]bool)
	for _, m := range partition.Protected {
		keep[m.ID] = true
	}
	for _, m := range partition.Recent {
		keep[m.ID] = true
	}

	var stillCompactable []*message.Message
	for _, m := range partition.Compactable {
		if keep[m.ID] {
			continue
		}
		if hasToolUse(m) && pairedResultKept(messages, m, keep) {
			partition.Recent = append(partition.Recent, m)
			partition.Stats.RecentTokens += m.EstimateTokens()
			partition.Stats.CompactableTokens -= m.EstimateTokens()
			continue
		}
		stillCompactable = append(stillCompactable, m)
	}
	partition.Compactable = stillCompactable
	return partition
}

func hasToolUse(m *message.Message) bool {
	for _, b := range m.Content {
		if b.Type == message.ContentTypeToolUse {
			return true
		}
	}
	return false
}

func pairedResultKept(messages []*message.Message, toolUseMsg *message.Message, keep map[id.MessageID]bool) bool {
	var ids []string
	for _, b := range toolUseMsg.Content {
		if b.Type == message.ContentTypeToolUse {
			ids = append(ids, b.ToolUseID)
		}
	}
	for _, m := range messages {
		if !keep[m.ID] {
			continue
		}
		for _, b := range m.Content {
			if b.Type == message.ContentTypeToolResult {
				for _, id := range ids {
					if b.ToolResultID == id {
						return true
					}
				}
			}
		}
	}
	return false
}

func (p *Partitioner) perMessageTokens(messages []*message.Message, result *TokenCountResult) []int {
	if len(result.PerMessage) == len(messages) {
		return result.PerMessage
	}
	out := make([]int, len(messages))
	for i, m := range messages {
		out[i] = p.tokenCounter.estimateMessageTokens(m)
	}
	return out
}
