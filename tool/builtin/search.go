package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/store"
	"github.com/youssefsiam38/pattern/tool"
)

// SearchDomain enumerates what search looks through.
type SearchDomain string

const (
	DomainConversations SearchDomain = "conversations"
	DomainArchival      SearchDomain = "archival"
	DomainMemoryBlocks  SearchDomain = "memory_blocks"
	DomainAll           SearchDomain = "all"
)

// SearchTool is the search built-in tool: a scored,
// fuzzy-capable lookup across an agent's own message history, archival
// memory, and attached memory blocks.
type SearchTool struct{}

// NewSearchTool creates the search built-in.
func NewSearchTool() *SearchTool {
	return &SearchTool{}
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Search the calling agent's conversation history, archival memory, and attached memory blocks for relevant content."
}

func (t *SearchTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"domain": {
				Type:        "string",
				Description: "Where to search.",
				Enum:        []string{string(DomainConversations), string(DomainArchival), string(DomainMemoryBlocks), string(DomainAll)},
			},
			"query": {
				Type:        "string",
				Description: "The search text.",
			},
			"fuzzy": {
				Type:        "boolean",
				Description: "Use relaxed/fuzzy matching instead of exact AND-ed terms.",
			},
			"k": {
				Type:        "integer",
				Description: "Maximum number of results to return (default 10).",
				Minimum:     floatPtr(1),
				Maximum:     floatPtr(100),
			},
		},
		Required: []string{"domain", "query"},
	}
}

type searchInput struct {
	Domain SearchDomain `json:"domain"`
	Query  string       `json:"query"`
	Fuzzy  bool         `json:"fuzzy"`
	K      int          `json:"k"`
}

type searchHit struct {
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Excerpt string  `json:"excerpt"`
}

func (t *SearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params searchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", tool.ToolDiscard(fmt.Errorf("invalid input: %w", err))
	}
	if params.K <= 0 {
		params.K = 10
	}

	h := tool.MustHandleFromContext(ctx)
	op := store.OpExact
	if params.Fuzzy {
		op = store.OpFuzzy1
	}

	var hits []searchHit

	if params.Domain == DomainConversations || params.Domain == DomainAll {
		filter := map[string]any{"agent_id": h.AgentID.String()}
		scored, err := h.Store.TextSearch(ctx, "msg", "content", params.Query, op, params.K, filter)
		if err != nil {
			return "", fmt.Errorf("search conversations: %w", err)
		}
		for _, s := range scored {
			msg, err := message.FromRow(s.Row)
			if err != nil {
				continue
			}
			hits = append(hits, searchHit{Source: "conversations", Score: s.Score, Excerpt: msg.Text()})
		}
	}

	if params.Domain == DomainArchival || params.Domain == DomainAll {
		blocks, err := h.Memory.SearchArchival(ctx, h.OwnerID, params.Query, params.K)
		if err != nil {
			return "", fmt.Errorf("search archival: %w", err)
		}
		for _, b := range blocks {
			hits = append(hits, searchHit{Source: "archival:" + b.Label, Score: 1, Excerpt: b.Content})
		}
	}

	if params.Domain == DomainMemoryBlocks || params.Domain == DomainAll {
		blocks, err := h.Memory.CoreBlocksFor(ctx, h.AgentID)
		if err != nil {
			return "", fmt.Errorf("search memory blocks: %w", err)
		}
		for _, b := range matchBlocks(blocks, params.Query) {
			hits = append(hits, searchHit{Source: "memory_blocks:" + b.Label, Score: 1, Excerpt: b.Content})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > params.K {
		hits = hits[:params.K]
	}

	out, err := json.Marshal(hits)
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(out), nil
}

// matchBlocks does a plain substring scan over core blocks: they're few
// enough per agent that a store round-trip text index would be overkill,
// unlike conversations/archival which route through the store's search.
func matchBlocks(blocks []*memory.Block, query string) []*memory.Block {
	q := strings.ToLower(query)
	var out []*memory.Block
	for _, b := range blocks {
		if q == "" || strings.Contains(strings.ToLower(b.Content), q) || strings.Contains(strings.ToLower(b.Label), q) {
			out = append(out, b)
		}
	}
	return out
}

func floatPtr(f float64) *float64 { return &f }
