package message

import (
	"encoding/json"
	"fmt"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/store"
)

// ToRow converts a Message into the generic store.Row shape, JSON-encoding
// Content for the msg table's jsonb column.
func (m *Message) ToRow() store.Row {
	content, _ := json.Marshal(m.Content)
	row := store.Row{
		"id":         m.ID.String(),
		"agent_id":   m.AgentID.String(),
		"role":       string(m.Role),
		"content":    json.RawMessage(content),
		"position":   m.Position,
		"batch_id":   m.BatchID,
		"in_context": m.InContext,
		"created_at": m.CreatedAt,
	}
	if m.Metadata != nil {
		row["metadata"] = m.Metadata
	}
	if m.Usage != nil {
		row["usage"] = m.Usage
	}
	return row
}

// FromRow reconstructs a Message from a store.Row as returned by
// store.Store.Select/Query.
func FromRow(row store.Row) (*Message, error) {
	msgID, err := id.ParseMessageID(asString(row["id"]))
	if err != nil {
		return nil, fmt.Errorf("message: parse id: %w", err)
	}
	agentID, err := id.ParseAgentID(asString(row["agent_id"]))
	if err != nil {
		return nil, fmt.Errorf("message: parse agent_id: %w", err)
	}

	m := &Message{
		ID:        msgID,
		AgentID:   agentID,
		Role:      Role(asString(row["role"])),
		Position:  asInt64(row["position"]),
		BatchID:   asInt64(row["batch_id"]),
		InContext: asBool(row["in_context"]),
	}

	if content, ok := row["content"]; ok && content != nil {
		if err := decodeInto(content, &m.Content); err != nil {
			return nil, fmt.Errorf("message: decode content: %w", err)
		}
	}
	if meta, ok := row["metadata"]; ok && meta != nil {
		_ = decodeInto(meta, &m.Metadata)
	}
	if usage, ok := row["usage"]; ok && usage != nil {
		m.Usage = &Usage{}
		_ = decodeInto(usage, m.Usage)
	}
	if created, ok := row["created_at"]; ok {
		if t, ok := asTime(created); ok {
			m.CreatedAt = t
		}
	}

	return m, nil
}

func decodeInto(v any, dst any) error {
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
