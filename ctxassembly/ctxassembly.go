// Package ctxassembly builds the ordered per-turn prompt from an agent's
// core blocks, group shared blocks, recent message window, and declared
// tools, generalizing a single-agent system-prompt-plus-history
// assembly (agent.go's streamMessage/getMessageHistory) to a group-aware
// five-step contract.
package ctxassembly

import (
	"context"
	"fmt"
	"strings"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/store"
)

// Assembler builds prompts for one agent at a time.
type Assembler struct {
	store  store.Store
	memory *memory.Manager
}

// New creates an Assembler.
func New(s store.Store, m *memory.Manager) *Assembler {
	return &Assembler{store: s, memory: m}
}

// Options parameterizes one assembly call.
type Options struct {
	// SystemPromptTemplate uses {{placeholder}} syntax, substituted from
	// Placeholders. Flat substitution, not a templating language: the only
	// placeholders ever used ({{author}}, {{content}}, and similar) are
	// single-level field lookups, so text/template's parse overhead and
	// field-path semantics buy nothing here — justified in DESIGN.md as a
	// deliberate stdlib-only part of an otherwise dependency-heavy module.
	SystemPromptTemplate string
	Placeholders         map[string]string

	// GroupID, if non-zero, makes step 3 include that group's shared
	// blocks visible to the agent.
	GroupID *id.GroupID

	// WindowSize bounds the recent-message window (step 4) by count.
	WindowSize int
	// TokenBudget bounds it by estimated tokens, whichever is tighter.
	TokenBudget int

	// Tools are declared to the model as step 5.
	Tools []model.ToolSpec
}

// Assembled is the ordered result of one assembly call, ready to become a
// model.Request.
type Assembled struct {
	SystemPrompt string
	Messages     []message.Message
	Tools        []model.ToolSpec
}

// Assemble builds the five-step prompt for agentID.
func (a *Assembler) Assemble(ctx context.Context, agentID id.AgentID, ownerID id.UserID, opts Options) (*Assembled, error) {
	systemPrompt := RenderTemplate(opts.SystemPromptTemplate, opts.Placeholders)

	coreBlocks, err := a.memory.CoreBlocksFor(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("ctxassembly: core blocks: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	for _, b := range coreBlocks {
		sb.WriteString("\n\n## ")
		sb.WriteString(b.Label)
		sb.WriteString("\n")
		sb.WriteString(b.Content)
	}

	if opts.GroupID != nil {
		shared, err := a.groupSharedBlocks(ctx, *opts.GroupID)
		if err != nil {
			return nil, fmt.Errorf("ctxassembly: group shared blocks: %w", err)
		}
		for _, b := range shared {
			sb.WriteString("\n\n## [shared] ")
			sb.WriteString(b.Label)
			sb.WriteString("\n")
			sb.WriteString(b.Content)
		}
	}

	window, err := a.recentWindow(ctx, agentID, opts.WindowSize, opts.TokenBudget)
	if err != nil {
		return nil, fmt.Errorf("ctxassembly: message window: %w", err)
	}

	return &Assembled{
		SystemPrompt: sb.String(),
		Messages:     window,
		Tools:        opts.Tools,
	}, nil
}

func (a *Assembler) groupSharedBlocks(ctx context.Context, groupID id.GroupID) ([]*memory.Block, error) {
	edges, err := a.store.RelatedTo(ctx, "group", groupID.String(), "group_shared_blocks")
	if err != nil {
		return nil, err
	}
	var blocks []*memory.Block
	for _, edge := range edges {
		toID, _ := edge["to_id"].(string)
		blockID, err := id.ParseMemoryBlockID(toID)
		if err != nil {
			continue
		}
		b, err := a.memory.Get(ctx, blockID)
		if err != nil || !b.Active {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// recentWindow returns the tail of agentID's message log with
// in_context=true, most-recent-first trimmed to limit/budget then
// reversed back to chronological order.
func (a *Assembler) recentWindow(ctx context.Context, agentID id.AgentID, limit, tokenBudget int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.store.Query(ctx,
		"SELECT * FROM msg WHERE agent_id = :agent_id AND in_context = true ORDER BY position DESC LIMIT :limit",
		map[string]any{"agent_id": agentID.String(), "limit": limit},
	)
	if err != nil {
		return nil, err
	}

	msgs := make([]message.Message, 0, len(rows))
	tokens := 0
	for _, row := range rows {
		m, err := message.FromRow(row)
		if err != nil {
			continue
		}
		if tokenBudget > 0 {
			t := m.EstimateTokens()
			if tokens+t > tokenBudget && len(msgs) > 0 {
				break
			}
			tokens += t
		}
		msgs = append(msgs, *m)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// RenderTemplate substitutes {{key}} placeholders in tmpl from values.
func RenderTemplate(tmpl string, values map[string]string) string {
	if len(values) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
