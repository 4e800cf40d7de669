// Package worker drives agent batches and group sleeptime wake-ups in the
// background: it is the run-worker/tool-worker pool generalized from the
// usual fixed run/tool-execution state machine (run_worker.go,
// tool_worker.go, batch_poller.go, api_builder.go — all removed; see
// DESIGN.md) to the new model, where a single synchronous
// engine.Engine.ProcessBatch call already does what used to take three
// polling loops and a claim-state-machine per tool execution: assembling
// context, calling the model, and running every requested tool to
// completion before returning. There is nothing left for a tool-worker or
// batch-status-poller to do.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/pattern/ctxassembly"
	"github.com/youssefsiam38/pattern/engine"
	"github.com/youssefsiam38/pattern/group"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/notifier"
	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/store"
)

// Config holds worker configuration.
type Config struct {
	// InstanceID identifies this worker instance. Worker stores it but does
	// not read it; the single-writer guarantee now lives in engine.Engine's per-agent lock,
	// not a claimed-by-instance column.
	InstanceID string

	// MaxConcurrentBatches bounds how many agent batches run at once.
	// Default: 10.
	MaxConcurrentBatches int

	// PollInterval is the fallback poll cadence when no notifier event has
	// arrived recently (and the sleeptime scheduler's own cadence).
	// Default: 5s.
	PollInterval time.Duration

	// OnError is called for every background processing error.
	OnError func(err error)

	// OnBatchComplete is called after every batch, successful or not.
	OnBatchComplete func(agentID id.AgentID, result *engine.Result, err error)
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentBatches: 10,
		PollInterval:         5 * time.Second,
		OnError: func(err error) {
			log.Printf("pattern/worker: %v", err)
		},
	}
}

// Worker polls for agents with unconsumed inbound messages and drives their
// batches, and separately wakes sleeptime groups on their configured
// triggers.
type Worker struct {
	store    store.Store
	engine   *engine.Engine
	groups   *group.Coordinator
	notifier *notifier.Notifier
	config   *Config

	sleeptime *SleeptimeScheduler
	ownerOf   OwnerLookup

	batchSem    chan struct{}
	started     atomic.Bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// OwnerLookup resolves an agent's owning user, needed by ProcessBatch but
// not carried on the agent row itself (it lives on the owns edge).
type OwnerLookup func(ctx context.Context, agentID id.AgentID) (id.UserID, error)

// New creates a Worker. ownerOf resolves an agent's owner for ProcessBatch;
// groups may be nil if no group coordination is configured.
func New(s store.Store, eng *engine.Engine, groups *group.Coordinator, notif *notifier.Notifier, ownerOf OwnerLookup, config *Config) *Worker {
	cfg := DefaultConfig()
	if config != nil {
		if config.InstanceID != "" {
			cfg.InstanceID = config.InstanceID
		}
		if config.MaxConcurrentBatches > 0 {
			cfg.MaxConcurrentBatches = config.MaxConcurrentBatches
		}
		if config.PollInterval > 0 {
			cfg.PollInterval = config.PollInterval
		}
		if config.OnError != nil {
			cfg.OnError = config.OnError
		}
		if config.OnBatchComplete != nil {
			cfg.OnBatchComplete = config.OnBatchComplete
		}
	}

	w := &Worker{
		store:    s,
		engine:   eng,
		groups:   groups,
		notifier: notif,
		config:   cfg,
		ownerOf:  ownerOf,
		batchSem: make(chan struct{}, cfg.MaxConcurrentBatches),
	}
	if groups != nil {
		w.sleeptime = NewSleeptimeScheduler(s, groups, cfg.PollInterval)
	}
	return w
}

// Start begins polling for pending batches and, if a group coordinator was
// configured, sleeptime wake-ups.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("worker: already started")
	}
	ctx, w.cancel = context.WithCancel(ctx)

	if w.notifier != nil {
		unsub, err := w.notifier.Subscribe(ctx, notifier.EventMessageCreated, "", func(evt *notifier.Event) {
			agentID, err := agentIDFromRow(evt.Row)
			if err != nil {
				return
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.tryProcessBatch(ctx, agentID)
			}()
		})
		if err != nil {
			w.config.OnError(fmt.Errorf("worker: subscribe to message events: %w", err))
		} else {
			w.unsubscribe = unsub
		}
	}

	w.wg.Add(1)
	go w.pollLoop(ctx)

	if w.sleeptime != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.sleeptime.Run(ctx)
		}()
	}

	return nil
}

// Stop stops the worker gracefully, waiting for in-flight batches to
// finish or ctx to expire, whichever comes first.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.started.Load() {
		return nil
	}
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.started.Store(false)
	return nil
}

// IsRunning reports whether the worker is currently started.
func (w *Worker) IsRunning() bool { return w.started.Load() }

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollPendingBatches(ctx)
		}
	}
}

// pollPendingBatches is the fallback path for stores without LISTEN/NOTIFY
// (sqlstore) and for catching up on any message-created event the notifier
// missed: it scans for Ready agents with an in-context user message newer
// than their latest assistant reply.
func (w *Worker) pollPendingBatches(ctx context.Context) {
	rows, err := w.store.Query(ctx,
		`SELECT DISTINCT agent_id FROM msg
		 WHERE role = 'user' AND in_context = true
		 AND position > COALESCE((
		   SELECT MAX(position) FROM msg m2
		   WHERE m2.agent_id = msg.agent_id AND m2.role = 'assistant'
		 ), -1)`,
		nil,
	)
	if err != nil {
		w.config.OnError(fmt.Errorf("worker: poll pending batches: %w", err))
		return
	}

	for _, row := range rows {
		agentID, err := agentIDFromRow(row)
		if err != nil {
			continue
		}
		select {
		case w.batchSem <- struct{}{}:
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer func() { <-w.batchSem }()
				w.tryProcessBatch(ctx, agentID)
			}()
		default:
			return
		}
	}
}

func (w *Worker) tryProcessBatch(ctx context.Context, agentID id.AgentID) {
	row, ok, err := w.store.Select(ctx, "agent", agentID.String())
	if err != nil || !ok {
		return
	}
	if state, _ := row["state"].(string); runstate.State(state) != runstate.Ready {
		return
	}

	ownerID, err := w.ownerOf(ctx, agentID)
	if err != nil {
		w.config.OnError(fmt.Errorf("worker: resolve owner for %s: %w", agentID, err))
		return
	}

	result, err := w.engine.ProcessBatch(ctx, agentID, ownerID, ctxassembly.Options{})
	if w.config.OnBatchComplete != nil {
		w.config.OnBatchComplete(agentID, result, err)
	}
	if err != nil {
		w.config.OnError(fmt.Errorf("worker: process batch for %s: %w", agentID, err))
	}
}

func agentIDFromRow(row store.Row) (id.AgentID, error) {
	s, _ := row["agent_id"].(string)
	if s == "" {
		s, _ = row["id"].(string)
	}
	return id.ParseAgentID(s)
}
