// Package memory implements the three-tier memory hierarchy: core blocks
// (always in context), recall blocks (compaction
// summaries), and archival blocks (vector + full-text searchable storage).
// Grounded on the compaction package for the summary-writing
// half and built fresh for the rest, since no single existing package
// of a persistent, searchable memory block.
package memory

import (
	"time"

	"github.com/youssefsiam38/pattern/id"
)

// Type distinguishes the three memory tiers.
type Type string

const (
	TypeCore     Type = "core"     // always included verbatim in context
	TypeRecall   Type = "recall"   // compaction-produced summaries, recalled on demand
	TypeArchival Type = "archival" // searchable long-term storage
)

// Block is a single unit of agent memory.
type Block struct {
	ID             id.MemoryBlockID `json:"id"`
	OwnerID        id.UserID        `json:"owner_id"`
	Label          string           `json:"label"`
	Content        string           `json:"content"`
	Description    string           `json:"description"`
	MaxLength      int              `json:"max_length"`
	Type           Type             `json:"memory_type"`
	Embedding      []float32        `json:"-"`
	EmbeddingModel string           `json:"embedding_model,omitempty"`
	Agents         []id.AgentID     `json:"agents"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Active         bool             `json:"active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Len reports the current content length, for enforcing MaxLength.
func (b *Block) Len() int { return len(b.Content) }

// OverLimit reports whether Content exceeds MaxLength (0 means unbounded).
func (b *Block) OverLimit() bool {
	return b.MaxLength > 0 && b.Len() > b.MaxLength
}

// SharedWith reports whether agentID is one of the agents this block is
// attached to.
func (b *Block) SharedWith(agentID id.AgentID) bool {
	for _, a := range b.Agents {
		if a == agentID {
			return true
		}
	}
	return false
}

// AppendOutcome classifies what Manager.Append actually did, so a caller
// that resubmits the same append (a retried tool call, a resumed batch)
// can tell a true no-op from a real write.
type AppendOutcome string

const (
	// AppendAlreadyPresent means the block's content already ends with the
	// trimmed text; nothing was written.
	AppendAlreadyPresent AppendOutcome = "already_present"
	// AppendResumedPartial means a trailing run of the block's content
	// overlapped a leading run of the text by at least minOverlap chars;
	// only the non-overlapping remainder was appended.
	AppendResumedPartial AppendOutcome = "resumed_partial"
	// AppendSuccess means the full text was appended with no overlap.
	AppendSuccess AppendOutcome = "success"
)

// AppendResult reports Append's outcome. Skipped is the length of the
// overlapping prefix elided from the write; zero for AppendSuccess and
// equal to len(text) (trimmed) for AppendAlreadyPresent.
type AppendResult struct {
	Outcome AppendOutcome
	Skipped int
}
