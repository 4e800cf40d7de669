package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/store"
)

// Default cleanup configuration values
const (
	DefaultCleanupInterval   = 1 * time.Minute
	DefaultStuckAgentTimeout = 1 * time.Hour
)

// CleanupConfig holds configuration for the cleanup service.
type CleanupConfig struct {
	// Interval is how often to run cleanup operations.
	// Default: 1 minute
	Interval time.Duration

	// StuckAgentTimeout is how long an agent can stay in runstate.Processing
	// before it is considered stuck and forced into runstate.Error.
	// Default: 1 hour
	StuckAgentTimeout time.Duration

	// OnStaleInstanceCleanup is called when stale worker instances are
	// removed. count is the number removed.
	OnStaleInstanceCleanup func(count int)

	// OnStuckAgentCleanup is called when stuck agents are forced into
	// runstate.Error. count is the number affected.
	OnStuckAgentCleanup func(count int)

	// OnError is called when a cleanup operation fails.
	OnError func(err error)
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() *CleanupConfig {
	return &CleanupConfig{
		Interval:          DefaultCleanupInterval,
		StuckAgentTimeout: DefaultStuckAgentTimeout,
	}
}

// CleanupResult holds the results of a cleanup operation.
type CleanupResult struct {
	// StaleInstancesCleaned is the number of stale worker instances removed.
	StaleInstancesCleaned int

	// StuckAgentsCleaned is the number of agents forced out of
	// runstate.Processing into runstate.Error.
	StuckAgentsCleaned int

	// Errors contains any errors that occurred during cleanup.
	Errors []error
}

// Cleanup performs cleanup operations for stale worker instances and agents
// stuck mid-batch. This should only be run by the global cluster leader
// (package leadership, LockName "").
type Cleanup struct {
	store  store.Store
	config *CleanupConfig

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewCleanup creates a new cleanup service.
func NewCleanup(s store.Store, config *CleanupConfig) *Cleanup {
	if config == nil {
		config = DefaultCleanupConfig()
	}

	return &Cleanup{
		store:  s,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start begins the cleanup loop.
// It returns immediately and runs cleanup operations in a goroutine.
// This should only be called when this instance holds the global lock.
func (c *Cleanup) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)

	return nil
}

// Stop stops the cleanup loop.
func (c *Cleanup) Stop(ctx context.Context) error {
	if !c.started.Load() {
		return ErrNotStarted
	}

	c.cancel()
	<-c.done

	c.started.Store(false)
	return nil
}

// run is the main cleanup loop.
func (c *Cleanup) run(ctx context.Context) {
	defer close(c.done)

	c.runCleanup(ctx)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCleanup(ctx)
		}
	}
}

// runCleanup performs all cleanup operations.
func (c *Cleanup) runCleanup(ctx context.Context) {
	result := c.RunOnce(ctx)

	if c.config.OnStaleInstanceCleanup != nil && result.StaleInstancesCleaned > 0 {
		c.config.OnStaleInstanceCleanup(result.StaleInstancesCleaned)
	}

	if c.config.OnStuckAgentCleanup != nil && result.StuckAgentsCleaned > 0 {
		c.config.OnStuckAgentCleanup(result.StuckAgentsCleaned)
	}

	if c.config.OnError != nil {
		for _, err := range result.Errors {
			c.config.OnError(err)
		}
	}
}

// RunOnce performs cleanup operations once and returns the result.
// This can be called manually for testing or one-off cleanup.
func (c *Cleanup) RunOnce(ctx context.Context) *CleanupResult {
	result := &CleanupResult{}

	staleCount, err := c.cleanupStaleInstances(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.StaleInstancesCleaned = staleCount
	}

	stuckCount, err := c.cleanupStuckAgents(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.StuckAgentsCleaned = stuckCount
	}

	return result
}

// cleanupStaleInstances removes worker_instance rows that haven't
// heartbeated within DefaultInstanceTTL.
func (c *Cleanup) cleanupStaleInstances(ctx context.Context) (int, error) {
	horizon := time.Now().UTC().Add(-DefaultInstanceTTL)

	const stmt = "SELECT * FROM worker_instance WHERE last_heartbeat_at < :horizon"
	rows, err := c.store.Query(ctx, stmt, map[string]any{"horizon": horizon})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		if err := c.store.Delete(ctx, InstanceTable, id); err != nil {
			// Continue with other instances even if one fails.
			continue
		}
		count++
	}

	return count, nil
}

// cleanupStuckAgents finds agents that have been in runstate.Processing
// longer than StuckAgentTimeout and forces them into runstate.Error, tagged
// with a ManualOnly recovery strategy: cleanup has no way to know whether
// the wedged batch committed an external effect before it stalled, so it
// cannot claim RestartBatch or RestartFromLastExternal are safe. This keeps
// the agent from holding its per-agent mutex forever while still requiring
// an operator to confirm before engine.ApplyRecovery touches it.
func (c *Cleanup) cleanupStuckAgents(ctx context.Context) (int, error) {
	horizon := time.Now().UTC().Add(-c.config.StuckAgentTimeout)

	const stmt = "SELECT * FROM agent WHERE state = :state AND updated_at < :horizon"
	rows, err := c.store.Query(ctx, stmt, map[string]any{
		"state":   string(runstate.Processing),
		"horizon": horizon,
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		_, err := c.store.UpdateMerge(ctx, "agent", id, store.Row{
			"state":      string(runstate.Error),
			"updated_at": time.Now().UTC(),
			"metadata": map[string]any{
				"recovery_strategy": map[string]any{
					"kind":   "manual_only",
					"reason": "stuck in processing past the cleanup timeout; external-effect state unknown",
				},
			},
		})
		if err != nil {
			// Continue with other agents even if one fails.
			continue
		}
		count++
	}

	return count, nil
}

// IsRunning returns true if the cleanup service is running.
func (c *Cleanup) IsRunning() bool {
	return c.started.Load()
}
