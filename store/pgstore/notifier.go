package pgstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youssefsiam38/pattern/store"
)

// notifier backs store.Store.Live using a single long-lived LISTEN
// connection per watched table, fanning out to subscribers — generalized
// from a single-session notifier package, which did the same thing for a
// fixed set of run/instance channels.
type notifier struct {
	pool *pgxpool.Pool

	mu   sync.Mutex
	subs map[string][]chan store.Notification // keyed by table name

	listening sync.Map // table -> struct{} (already has a listen goroutine)
}

func newNotifier(pool *pgxpool.Pool) *notifier {
	return &notifier{pool: pool, subs: make(map[string][]chan store.Notification)}
}

func (n *notifier) subscribe(ctx context.Context, predicate store.Predicate) (<-chan store.Notification, func(), error) {
	ch := make(chan store.Notification, 64)

	n.mu.Lock()
	n.subs[predicate.Table] = append(n.subs[predicate.Table], ch)
	n.mu.Unlock()

	if _, loaded := n.listening.LoadOrStore(predicate.Table, struct{}{}); !loaded {
		go n.listenLoop(context.Background(), predicate.Table)
	}

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subs[predicate.Table]
		for i, s := range subs {
			if s == ch {
				n.subs[predicate.Table] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}

	// Apply the predicate's filters client-side: rows that don't match are
	// dropped before reaching the subscriber. This keeps the LISTEN channel
	// name stable (per table) while honoring arbitrary per-subscription
	// filters without dynamic channel fan-out.
	filtered := make(chan store.Notification, 64)
	go func() {
		defer close(filtered)
		for note := range ch {
			if matchesPredicate(note, predicate) {
				filtered <- note
			}
		}
	}()

	return filtered, cancel, nil
}

func matchesPredicate(n store.Notification, p store.Predicate) bool {
	for col, want := range p.Filters {
		if got, ok := n.Row[col]; !ok || toString(got) != want {
			return false
		}
	}
	return true
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func (n *notifier) listenLoop(ctx context.Context, table string) {
	channel := "pattern_" + table
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return
		}

		var payload struct {
			Action string    `json:"action"`
			Row    store.Row `json:"row"`
		}
		if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
			continue
		}

		event := store.Notification{
			Action: store.NotificationAction(payload.Action),
			Table:  table,
			Row:    payload.Row,
		}

		n.mu.Lock()
		subs := make([]chan store.Notification, len(n.subs[table]))
		copy(subs, n.subs[table])
		n.mu.Unlock()

		for _, s := range subs {
			select {
			case s <- event:
			default: // drop for slow subscribers rather than block the listen loop
			}
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, subs := range n.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	n.subs = make(map[string][]chan store.Notification)
}
