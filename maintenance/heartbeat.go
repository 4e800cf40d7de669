// Package maintenance provides background services that keep a Pattern
// deployment healthy across multiple worker processes.
//
// This package includes:
//   - Heartbeat service: keeps a worker process registered as alive
//   - Cleanup service: removes stale worker registrations and moves
//     agents stuck in runstate.Processing past their batch deadline into
//     runstate.Error with a ManualOnly recovery strategy (leader-only,
//     preserving the single-writer-per-agent guarantee)
package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/pattern/store"
)

// InstanceTable is the store table tracking live worker processes.
const InstanceTable = "worker_instance"

// Default heartbeat configuration values
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultInstanceTTL       = 2 * time.Minute
)

// HeartbeatConfig holds configuration for the heartbeat service.
type HeartbeatConfig struct {
	// Interval is how often to send heartbeats.
	// Default: 30 seconds
	Interval time.Duration

	// OnError is called when a heartbeat fails.
	// If nil, errors are silently ignored.
	OnError func(err error)
}

// DefaultHeartbeatConfig returns the default heartbeat configuration.
func DefaultHeartbeatConfig() *HeartbeatConfig {
	return &HeartbeatConfig{
		Interval: DefaultHeartbeatInterval,
	}
}

// Heartbeat sends periodic heartbeats to keep a worker process registered as
// active in InstanceTable.
type Heartbeat struct {
	store      store.Store
	instanceID string
	config     *HeartbeatConfig

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewHeartbeat creates a new heartbeat service.
func NewHeartbeat(s store.Store, instanceID string, config *HeartbeatConfig) *Heartbeat {
	if config == nil {
		config = DefaultHeartbeatConfig()
	}

	return &Heartbeat{
		store:      s,
		instanceID: instanceID,
		config:     config,
		done:       make(chan struct{}),
	}
}

// Start begins sending heartbeats.
// It returns immediately and runs the heartbeat loop in a goroutine.
func (h *Heartbeat) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, h.cancel = context.WithCancel(ctx)
	go h.run(ctx)

	return nil
}

// Stop stops sending heartbeats.
func (h *Heartbeat) Stop(ctx context.Context) error {
	if !h.started.Load() {
		return ErrNotStarted
	}

	h.cancel()
	<-h.done

	h.started.Store(false)
	return nil
}

// run is the main heartbeat loop.
func (h *Heartbeat) run(ctx context.Context) {
	defer close(h.done)

	h.sendHeartbeat(ctx)

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sendHeartbeat(ctx)
		}
	}
}

// sendHeartbeat upserts this instance's heartbeat row.
func (h *Heartbeat) sendHeartbeat(ctx context.Context) {
	now := time.Now().UTC()

	_, ok, err := h.store.Select(ctx, InstanceTable, h.instanceID)
	if err != nil {
		if h.config.OnError != nil {
			h.config.OnError(err)
		}
		return
	}

	if !ok {
		_, err = h.store.Create(ctx, InstanceTable, h.instanceID, store.Row{
			"id":                h.instanceID,
			"started_at":        now,
			"last_heartbeat_at": now,
		})
	} else {
		_, err = h.store.UpdateMerge(ctx, InstanceTable, h.instanceID, store.Row{
			"last_heartbeat_at": now,
		})
	}

	if err != nil && h.config.OnError != nil {
		h.config.OnError(err)
	}
}

// IsRunning returns true if the heartbeat service is running.
func (h *Heartbeat) IsRunning() bool {
	return h.started.Load()
}
