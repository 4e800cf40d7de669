package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/youssefsiam38/pattern/ctxassembly"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/store"
)

const table = "data_source"

// registration is one source's live state: its Source implementation, its
// ring buffer, and the stored row's identity/config.
type registration struct {
	id           id.DataSourceID
	source       Source
	buffer       *RingBuffer
	templateName string
	template     string
	targetAgent  id.AgentID
	cancel       func()
}

// Coordinator registers sources, buffers their items, renders each through
// a template, and forwards the result as a system-role message to the
// source's designated agent — persisting the cursor only after the
// forward succeeds, so a crash between forward and cursor commit replays
// the item rather than losing it.
type Coordinator struct {
	store store.Store

	mu   sync.Mutex
	regs map[string]*registration
}

// New creates a Coordinator backed by s.
func New(s store.Store) *Coordinator {
	return &Coordinator{store: s, regs: make(map[string]*registration)}
}

// Register adds a source, creating its data_source row with an initial
// cursor and starting its subscribe loop. template is the
// {{placeholder}}-style rendering applied to each item's Fields before
// forwarding.
func (c *Coordinator) Register(ctx context.Context, kind string, src Source, targetAgent id.AgentID, templateName, template string, bufferCapacity int, initialCursor Cursor) (id.DataSourceID, error) {
	dsID := id.NewDataSourceID()
	now := time.Now().UTC()

	row := store.Row{
		"id":              dsID.String(),
		"kind":            kind,
		"cursor":          map[string]any{"value": string(initialCursor)},
		"stats":           map[string]any{},
		"template_name":   templateName,
		"target_agent_id": targetAgent.String(),
		"created_at":      now,
		"updated_at":      now,
	}
	if _, err := c.store.Create(ctx, table, dsID.String(), row); err != nil {
		return id.DataSourceID{}, fmt.Errorf("datasource: create row: %w", err)
	}

	reg := &registration{
		id:           dsID,
		source:       src,
		buffer:       NewRingBuffer(bufferCapacity),
		templateName: templateName,
		template:     template,
		targetAgent:  targetAgent,
	}

	subCtx, cancel := context.WithCancel(context.Background())
	reg.cancel = cancel

	events, stop, err := src.Subscribe(subCtx, initialCursor)
	if err != nil {
		cancel()
		return id.DataSourceID{}, fmt.Errorf("datasource: subscribe: %w", err)
	}
	reg.cancel = func() { cancel(); stop() }

	c.mu.Lock()
	c.regs[dsID.String()] = reg
	c.mu.Unlock()

	go c.forwardLoop(dsID, events)

	return dsID, nil
}

// forwardLoop drains a source's event stream, buffering then forwarding
// each item and persisting its cursor on success.
func (c *Coordinator) forwardLoop(dsID id.DataSourceID, events <-chan Event) {
	for ev := range events {
		c.mu.Lock()
		reg, ok := c.regs[dsID.String()]
		c.mu.Unlock()
		if !ok {
			return
		}

		reg.buffer.Push(ev.Item)

		ctx := context.Background()
		if err := c.forward(ctx, reg, ev.Item); err != nil {
			continue
		}
		_ = c.advanceCursor(ctx, dsID, ev.Item.Cursor)
	}
}

// forward renders item through the registration's template and appends it
// as a system-role message to the target agent's log.
func (c *Coordinator) forward(ctx context.Context, reg *registration, item Item) error {
	rendered := ctxassembly.RenderTemplate(reg.template, item.Fields)

	msg := &message.Message{
		ID:      id.NewMessageID(),
		AgentID: reg.targetAgent,
		Role:    message.RoleSystem,
		Content: []message.ContentBlock{
			{Type: message.ContentTypeText, Text: rendered},
		},
		InContext: true,
		Metadata:  map[string]any{"data_source_id": reg.id.String(), "item_id": item.ID},
		CreatedAt: time.Now().UTC(),
	}
	_, err := c.store.Create(ctx, "msg", msg.ID.String(), msg.ToRow())
	return err
}

func (c *Coordinator) advanceCursor(ctx context.Context, dsID id.DataSourceID, cursor Cursor) error {
	_, err := c.store.UpdateMerge(ctx, table, dsID.String(), store.Row{
		"cursor":     map[string]any{"value": string(cursor)},
		"updated_at": time.Now().UTC(),
	})
	return err
}

// Pull fetches up to limit items from dsID's source directly (the
// data_source built-in's Pull operation), bypassing the subscribe loop.
// Each item is buffered and forwarded synchronously, and the cursor
// advances after each successful forward.
func (c *Coordinator) Pull(ctx context.Context, dsID id.DataSourceID, limit int) ([]Item, error) {
	c.mu.Lock()
	reg, ok := c.regs[dsID.String()]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("datasource: unknown source %s", dsID)
	}

	row, found, err := c.store.Select(ctx, table, dsID.String())
	if err != nil || !found {
		return nil, fmt.Errorf("datasource: load cursor: %w", err)
	}
	cursor := cursorFromRow(row)

	items, err := reg.source.Pull(ctx, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("datasource: pull: %w", err)
	}
	for _, item := range items {
		reg.buffer.Push(item)
		if err := c.forward(ctx, reg, item); err == nil {
			_ = c.advanceCursor(ctx, dsID, item.Cursor)
		}
	}
	return items, nil
}

// Stats returns dsID's buffer size and the source's own Metadata.
func (c *Coordinator) Stats(ctx context.Context, dsID id.DataSourceID) (Stats, int, error) {
	c.mu.Lock()
	reg, ok := c.regs[dsID.String()]
	c.mu.Unlock()
	if !ok {
		return Stats{}, 0, fmt.Errorf("datasource: unknown source %s", dsID)
	}
	stats, err := reg.source.Metadata(ctx)
	if err != nil {
		return Stats{}, 0, err
	}
	return stats, reg.buffer.Len(), nil
}

// List returns the id of every currently-registered source.
func (c *Coordinator) List() []id.DataSourceID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]id.DataSourceID, 0, len(c.regs))
	for _, reg := range c.regs {
		out = append(out, reg.id)
	}
	return out
}

// Unregister stops dsID's subscribe loop and forgets it. The stored row is
// left intact so the source can be resumed later from its persisted
// cursor.
func (c *Coordinator) Unregister(dsID id.DataSourceID) {
	c.mu.Lock()
	reg, ok := c.regs[dsID.String()]
	delete(c.regs, dsID.String())
	c.mu.Unlock()
	if ok && reg.cancel != nil {
		reg.cancel()
	}
}

func cursorFromRow(row store.Row) Cursor {
	raw, ok := row["cursor"]
	if !ok || raw == nil {
		return ""
	}
	var doc map[string]any
	switch v := raw.(type) {
	case map[string]any:
		doc = v
	case []byte:
		_ = json.Unmarshal(v, &doc)
	case string:
		_ = json.Unmarshal([]byte(v), &doc)
	}
	if doc == nil {
		return ""
	}
	if v, ok := doc["value"].(string); ok {
		return Cursor(v)
	}
	return ""
}
