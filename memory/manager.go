package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/youssefsiam38/pattern/embedding"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/store"
)

const table = "mem"

// minAppendOverlap is the shortest suffix/prefix overlap Append treats as
// evidence of a resumed append rather than two genuinely different writes
// that happen to share a few characters.
const minAppendOverlap = 20

// Manager is the memory subsystem's entry point: block CRUD, core-block
// compilation into system-prompt text, and archival search.
type Manager struct {
	store    store.Store
	embedder embedding.Provider
}

// New builds a Manager. embedder may be nil, in which case archival blocks
// are stored without vectors and only text search is available.
func New(s store.Store, embedder embedding.Provider) *Manager {
	return &Manager{store: s, embedder: embedder}
}

// CreateCore creates a new core memory block, always included verbatim in
// an agent's context window. label must be unique per owner among core
// blocks.
func (m *Manager) CreateCore(ctx context.Context, ownerID id.UserID, label, content string, maxLength int) (*Block, error) {
	return m.create(ctx, ownerID, label, content, TypeCore, maxLength)
}

// CreateArchival creates a searchable archival block, embedding its content
// if an embedding provider is configured.
func (m *Manager) CreateArchival(ctx context.Context, ownerID id.UserID, label, content string) (*Block, error) {
	return m.create(ctx, ownerID, label, content, TypeArchival, 0)
}

// CreateRecall creates a recall block — a compaction-produced summary — for
// ownerID.
func (m *Manager) CreateRecall(ctx context.Context, ownerID id.UserID, label, content string) (*Block, error) {
	return m.create(ctx, ownerID, label, content, TypeRecall, 0)
}

func (m *Manager) create(ctx context.Context, ownerID id.UserID, label, content string, typ Type, maxLength int) (*Block, error) {
	now := time.Now().UTC()
	b := &Block{
		ID:        id.NewMemoryBlockID(),
		OwnerID:   ownerID,
		Label:     label,
		Content:   content,
		MaxLength: maxLength,
		Type:      typ,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if b.OverLimit() {
		return nil, perrors.New("memory.Create", perrors.ErrMemoryLimitExceeded).WithContext("label", label)
	}

	if m.embedder != nil && typ != TypeCore {
		vec, err := m.embedder.Embed(ctx, content)
		if err != nil {
			return nil, perrors.New("memory.Create", fmt.Errorf("embed: %w", err))
		}
		b.Embedding = vec
		b.EmbeddingModel = m.embedder.Name()
	}

	row, err := m.store.Create(ctx, table, b.ID.String(), b.ToRow())
	if err != nil {
		return nil, perrors.New("memory.Create", fmt.Errorf("%w: %v", perrors.ErrDuplicateLabel, err)).WithContext("label", label)
	}
	return FromRow(row)
}

// Get fetches a block by ID.
func (m *Manager) Get(ctx context.Context, blockID id.MemoryBlockID) (*Block, error) {
	row, ok, err := m.store.Select(ctx, table, blockID.String())
	if err != nil {
		return nil, perrors.New("memory.Get", err)
	}
	if !ok {
		return nil, perrors.New("memory.Get", perrors.ErrBlockNotFound)
	}
	return FromRow(row)
}

// Replace overwrites a block's content in full, re-embedding if needed.
func (m *Manager) Replace(ctx context.Context, blockID id.MemoryBlockID, content string) (*Block, error) {
	existing, err := m.Get(ctx, blockID)
	if err != nil {
		return nil, err
	}

	patch := store.Row{"content": content, "updated_at": time.Now().UTC()}
	if len(content) > existing.MaxLength && existing.MaxLength > 0 {
		return nil, perrors.New("memory.Replace", perrors.ErrMemoryLimitExceeded).WithContext("block_id", blockID.String())
	}
	if m.embedder != nil && existing.Type != TypeCore {
		vec, err := m.embedder.Embed(ctx, content)
		if err != nil {
			return nil, perrors.New("memory.Replace", err)
		}
		patch["embedding"] = vec
		patch["embedding_model"] = m.embedder.Name()
	}

	row, err := m.store.UpdateMerge(ctx, table, blockID.String(), patch)
	if err != nil {
		return nil, perrors.New("memory.Replace", err)
	}
	return FromRow(row)
}

// Append adds text to blockID's content idempotently. A resubmission whose
// trimmed text already ends the block's content is a no-op
// (AppendAlreadyPresent). A resubmission whose leading run overlaps the
// block's trailing run by at least minAppendOverlap characters — the
// signature of a retried write resending part of what it already sent —
// appends only the non-overlapping remainder (AppendResumedPartial).
// Anything else is appended in full (AppendSuccess).
func (m *Manager) Append(ctx context.Context, blockID id.MemoryBlockID, text string) (*Block, AppendResult, error) {
	existing, err := m.Get(ctx, blockID)
	if err != nil {
		return nil, AppendResult{}, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasSuffix(existing.Content, trimmed) {
		return existing, AppendResult{Outcome: AppendAlreadyPresent, Skipped: len(trimmed)}, nil
	}

	remainder := trimmed
	outcome := AppendSuccess
	skipped := 0
	overlap := suffixPrefixOverlap(existing.Content, trimmed)
	if overlap >= minAppendOverlap {
		remainder = trimmed[overlap:]
		outcome = AppendResumedPartial
		skipped = overlap
	}

	merged := existing.Content
	if merged != "" && outcome == AppendSuccess {
		merged += "\n"
	}
	merged += remainder

	updated, err := m.Replace(ctx, blockID, merged)
	if err != nil {
		return nil, AppendResult{}, err
	}
	return updated, AppendResult{Outcome: outcome, Skipped: skipped}, nil
}

// suffixPrefixOverlap returns the length of the longest suffix of a that is
// also a prefix of b.
func suffixPrefixOverlap(a, b string) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(a, b[:n]) {
			return n
		}
	}
	return 0
}

// PatchMetadata merges a JSON patch document into a block's metadata using
// gjson/sjson path semantics (each top-level key of patch is set at that
// path, leaving sibling keys untouched) — the jsonb patch-merge primitive
// the update_memory tool builds on.
func (m *Manager) PatchMetadata(ctx context.Context, blockID id.MemoryBlockID, patchJSON string) (*Block, error) {
	existing, err := m.Get(ctx, blockID)
	if err != nil {
		return nil, err
	}

	current := "{}"
	if existing.Metadata != nil {
		for k, v := range existing.Metadata {
			current, _ = sjson.Set(current, k, v)
		}
	}

	var patchErr error
	gjson.Parse(patchJSON).ForEach(func(key, value gjson.Result) bool {
		current, patchErr = sjson.SetRaw(current, key.String(), value.Raw)
		return patchErr == nil
	})
	if patchErr != nil {
		return nil, perrors.New("memory.PatchMetadata", fmt.Errorf("%w: %v", perrors.ErrInvalidArguments, patchErr))
	}

	var merged map[string]any
	if err := decode([]byte(current), &merged); err != nil {
		return nil, perrors.New("memory.PatchMetadata", err)
	}

	row, err := m.store.UpdateMerge(ctx, table, blockID.String(), store.Row{"metadata": merged, "updated_at": time.Now().UTC()})
	if err != nil {
		return nil, perrors.New("memory.PatchMetadata", err)
	}
	return FromRow(row)
}

// AttachToAgent shares a block with an additional agent by recording an
// agent_memories edge.
func (m *Manager) AttachToAgent(ctx context.Context, blockID id.MemoryBlockID, agentID id.AgentID, accessLevel string) error {
	_, err := m.store.Relate(ctx, "agent", agentID.String(), "agent_memories", table, blockID.String(),
		store.Row{"access_level": accessLevel})
	return err
}

// DetachFromAgent removes the agent_memories edge for blockID/agentID.
func (m *Manager) DetachFromAgent(ctx context.Context, blockID id.MemoryBlockID, agentID id.AgentID) error {
	return m.store.Unrelate(ctx, "agent", agentID.String(), "agent_memories", table, blockID.String())
}

// CoreBlocksFor returns every active core block visible to agentID, in
// label order, for compilation into the system prompt.
func (m *Manager) CoreBlocksFor(ctx context.Context, agentID id.AgentID) ([]*Block, error) {
	rows, err := m.store.RelatedTo(ctx, "agent", agentID.String(), "agent_memories")
	if err != nil {
		return nil, perrors.New("memory.CoreBlocksFor", err)
	}

	var blocks []*Block
	for _, edgeRow := range rows {
		blockID, err := id.ParseMemoryBlockID(str(edgeRow["to_id"]))
		if err != nil {
			continue
		}
		b, err := m.Get(ctx, blockID)
		if err != nil || b.Type != TypeCore || !b.Active {
			continue
		}
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Label < blocks[j].Label })
	return blocks, nil
}

// SearchArchival performs a hybrid vector + text search over archival
// blocks owned by ownerID, returning the top k matches by combined score.
func (m *Manager) SearchArchival(ctx context.Context, ownerID id.UserID, query string, k int) ([]*Block, error) {
	filter := map[string]any{"owner_id": ownerID.String(), "memory_type": string(TypeArchival)}

	var vectorHits []store.ScoredRow
	if m.embedder != nil {
		vec, err := m.embedder.Embed(ctx, query)
		if err == nil {
			vectorHits, _ = m.store.VectorSearch(ctx, table, "embedding", vec, k, filter)
		}
	}

	textHits, err := m.store.TextSearch(ctx, table, "content", query, store.OpFuzzy1, k, filter)
	if err != nil && vectorHits == nil {
		return nil, perrors.New("memory.SearchArchival", err)
	}

	merged := mergeScored(vectorHits, textHits, k)
	blocks := make([]*Block, 0, len(merged))
	for _, row := range merged {
		b, err := FromRow(row)
		if err == nil {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

// ArchivalSearchConstellation performs SearchArchival for every distinct
// owner reachable from constellationID's member agents (via the
// constellation_agents and owns edges) and unions the results, re-ranked by
// combined score. This is the "edge-relation sketch" for cross-agent search:
// no separate index backs a constellation, just a fan-out over the owners
// its members already belong to.
func (m *Manager) ArchivalSearchConstellation(ctx context.Context, constellationID id.ConstellationID, query string, k int) ([]*Block, error) {
	memberEdges, err := m.store.RelatedTo(ctx, "constellation", constellationID.String(), "constellation_agents")
	if err != nil {
		return nil, perrors.New("memory.ArchivalSearchConstellation", err)
	}

	seenOwner := make(map[string]bool)
	var owners []id.UserID
	for _, edge := range memberEdges {
		agentID, err := id.ParseAgentID(str(edge["to_id"]))
		if err != nil {
			continue
		}
		ownerEdges, err := m.store.RelatedFrom(ctx, "agent", agentID.String(), "owns")
		if err != nil || len(ownerEdges) == 0 {
			continue
		}
		ownerID, err := id.ParseUserID(str(ownerEdges[0]["from_id"]))
		if err != nil || seenOwner[ownerID.String()] {
			continue
		}
		seenOwner[ownerID.String()] = true
		owners = append(owners, ownerID)
	}

	var vectorHits, textHits []store.ScoredRow
	for _, ownerID := range owners {
		filter := map[string]any{"owner_id": ownerID.String(), "memory_type": string(TypeArchival)}

		if m.embedder != nil {
			if vec, err := m.embedder.Embed(ctx, query); err == nil {
				if hits, err := m.store.VectorSearch(ctx, table, "embedding", vec, k, filter); err == nil {
					vectorHits = append(vectorHits, hits...)
				}
			}
		}
		if hits, err := m.store.TextSearch(ctx, table, "content", query, store.OpFuzzy1, k, filter); err == nil {
			textHits = append(textHits, hits...)
		}
	}

	merged := mergeScored(vectorHits, textHits, k)
	blocks := make([]*Block, 0, len(merged))
	for _, row := range merged {
		b, err := FromRow(row)
		if err == nil {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

// mergeScored combines two scored result sets by summing scores per row id
// and returning the top k, favoring rows that both searches agree on.
func mergeScored(a, b []store.ScoredRow, k int) []store.Row {
	scores := make(map[string]float64)
	rows := make(map[string]store.Row)
	for _, hit := range a {
		idStr := str(hit.Row["id"])
		scores[idStr] += hit.Score
		rows[idStr] = hit.Row
	}
	for _, hit := range b {
		idStr := str(hit.Row["id"])
		scores[idStr] += hit.Score
		rows[idStr] = hit.Row
	}

	type ranked struct {
		id    string
		score float64
	}
	ordered := make([]ranked, 0, len(scores))
	for id, score := range scores {
		ordered = append(ordered, ranked{id, score})
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].score > ordered[j-1].score; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	if k < len(ordered) {
		ordered = ordered[:k]
	}

	out := make([]store.Row, 0, len(ordered))
	for _, r := range ordered {
		out = append(out, rows[r.id])
	}
	return out
}
