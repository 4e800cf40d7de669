package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/store"
)

// ToRow converts a Block into the generic store.Row shape for the mem
// table, vector column included as a plain float32 slice (pgstore encodes
// it through pgvector's wire type).
func (b *Block) ToRow() store.Row {
	agents := make([]string, len(b.Agents))
	for i, a := range b.Agents {
		agents[i] = a.String()
	}
	row := store.Row{
		"id":          b.ID.String(),
		"owner_id":    b.OwnerID.String(),
		"label":       b.Label,
		"content":     b.Content,
		"description": b.Description,
		"max_length":  b.MaxLength,
		"memory_type": string(b.Type),
		"agents":      agents,
		"active":      b.Active,
		"created_at":  b.CreatedAt,
		"updated_at":  b.UpdatedAt,
	}
	if b.Embedding != nil {
		row["embedding"] = b.Embedding
	}
	if b.EmbeddingModel != "" {
		row["embedding_model"] = b.EmbeddingModel
	}
	if b.Metadata != nil {
		row["metadata"] = b.Metadata
	}
	return row
}

// FromRow reconstructs a Block from a store.Row.
func FromRow(row store.Row) (*Block, error) {
	blockID, err := id.ParseMemoryBlockID(str(row["id"]))
	if err != nil {
		return nil, fmt.Errorf("memory: parse id: %w", err)
	}
	ownerID, err := id.ParseUserID(str(row["owner_id"]))
	if err != nil {
		return nil, fmt.Errorf("memory: parse owner_id: %w", err)
	}

	b := &Block{
		ID:          blockID,
		OwnerID:     ownerID,
		Label:       str(row["label"]),
		Content:     str(row["content"]),
		Description: str(row["description"]),
		MaxLength:   intOf(row["max_length"]),
		Type:        Type(str(row["memory_type"])),
		Active:      boolOf(row["active"]),
	}

	if agents, ok := row["agents"]; ok && agents != nil {
		var raw []string
		if err := decode(agents, &raw); err == nil {
			for _, a := range raw {
				if agentID, err := id.ParseAgentID(a); err == nil {
					b.Agents = append(b.Agents, agentID)
				}
			}
		}
	}
	if meta, ok := row["metadata"]; ok && meta != nil {
		_ = decode(meta, &b.Metadata)
	}
	if model, ok := row["embedding_model"].(string); ok {
		b.EmbeddingModel = model
	}
	if created, ok := asTime(row["created_at"]); ok {
		b.CreatedAt = created
	}
	if updated, ok := asTime(row["updated_at"]); ok {
		b.UpdatedAt = updated
	}

	return b, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func boolOf(v any) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

func decode(v any, dst any) error {
	switch raw := v.(type) {
	case []byte:
		return json.Unmarshal(raw, dst)
	case json.RawMessage:
		return json.Unmarshal(raw, dst)
	case string:
		return json.Unmarshal([]byte(raw), dst)
	default:
		b, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
