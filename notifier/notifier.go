// Package notifier provides a typed, high-level event subscription API over
// store.Store's generic Live live-query mechanism. Where store.Store.Live
// deals in raw table/row notifications, notifier maps domain event types
// (agent state transitions, new messages, memory edits) onto the
// appropriate table watch and decodes rows into typed payloads.
//
// Generalized from a single-session notifier package, which did the same
// typed-event-over-LISTEN/NOTIFY mapping against a fixed enum of run/
// instance channels; here the mapping is agent/table-centric and the
// underlying transport (pgstore's per-table LISTEN loop, or sqlstore's
// polling) is hidden entirely behind store.Store.
package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/pattern/store"
)

// EventType identifies the kind of domain change a subscriber cares about.
type EventType string

const (
	EventAgentStateChanged EventType = "agent_state_changed"
	EventMessageCreated    EventType = "message_created"
	EventMemoryUpdated     EventType = "memory_updated"
)

var eventTable = map[EventType]string{
	EventAgentStateChanged: "agent",
	EventMessageCreated:    "msg",
	EventMemoryUpdated:     "mem",
}

// Event is a decoded domain notification.
type Event struct {
	Type       EventType
	AgentID    string
	Row        store.Row
	ReceivedAt time.Time
}

// Handler is called for each matching event, synchronously and in arrival
// order; handlers should be quick and hand off long work asynchronously.
type Handler func(event *Event)

// Config holds notifier-wide behavior.
type Config struct {
	// OnError is called when an underlying Live subscription fails to start.
	OnError func(err error)
}

func DefaultConfig() *Config { return &Config{} }

type subscription struct {
	eventType EventType
	agentID   string
	handler   Handler
	cancel    func()
}

// Notifier multiplexes typed subscriptions over a store.Store.
type Notifier struct {
	store  store.Store
	config *Config

	mu   sync.Mutex
	subs map[int64]*subscription
	next int64

	started atomic.Bool
}

// New creates a Notifier backed by s.
func New(s store.Store, config *Config) *Notifier {
	if config == nil {
		config = DefaultConfig()
	}
	return &Notifier{store: s, config: config, subs: make(map[int64]*subscription)}
}

// Subscribe watches eventType for agentID ("" for all agents) and invokes
// handler for every matching row change. Returns an unsubscribe function.
func (n *Notifier) Subscribe(ctx context.Context, eventType EventType, agentID string, handler Handler) (func(), error) {
	table, ok := eventTable[eventType]
	if !ok {
		return nil, ErrUnknownEventType
	}

	predicate := store.Predicate{Table: table}
	if agentID != "" {
		predicate.Filters = map[string]string{"agent_id": agentID}
	}

	ch, cancelLive, err := n.store.Live(ctx, predicate)
	if err != nil {
		if n.config.OnError != nil {
			n.config.OnError(err)
		}
		return nil, err
	}

	n.mu.Lock()
	id := n.next
	n.next++
	sub := &subscription{eventType: eventType, agentID: agentID, handler: handler, cancel: cancelLive}
	n.subs[id] = sub
	n.mu.Unlock()

	go func() {
		for note := range ch {
			handler(&Event{
				Type:       eventType,
				AgentID:    agentID,
				Row:        note.Row,
				ReceivedAt: time.Now(),
			})
		}
	}()

	return func() { n.unsubscribe(id) }, nil
}

func (n *Notifier) unsubscribe(id int64) {
	n.mu.Lock()
	sub, ok := n.subs[id]
	delete(n.subs, id)
	n.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

// Notify publishes a raw notification on channel, for callers that need to
// signal something outside the table-watch model (e.g. group turn-advance
// pings).
func (n *Notifier) Notify(ctx context.Context, channel string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return n.store.Notify(ctx, channel, string(b))
}

// Close cancels every active subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.subs = make(map[int64]*subscription)
	n.mu.Unlock()

	for _, s := range subs {
		s.cancel()
	}
}

// Count returns the number of active subscriptions, for tests and metrics.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
