package maintenance

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/store"
)

// fakeCleanupStore implements just enough of store.Store to exercise
// Cleanup without a real Postgres instance. Query inspects the statement
// text to decide which fixture table to serve from, mirroring how the real
// adapters dispatch on the FROM clause.
type fakeCleanupStore struct {
	store.Store
	instances store.ResultSet
	agents    store.ResultSet

	deletedInstances []string
	updatedAgents    []string
}

func (f *fakeCleanupStore) Query(ctx context.Context, statement string, bindings map[string]any) (store.ResultSet, error) {
	if strings.Contains(statement, "worker_instance") {
		return f.instances, nil
	}
	if strings.Contains(statement, "FROM agent") {
		return f.agents, nil
	}
	return nil, nil
}

func (f *fakeCleanupStore) Delete(ctx context.Context, table, key string) error {
	f.deletedInstances = append(f.deletedInstances, key)
	return nil
}

func (f *fakeCleanupStore) UpdateMerge(ctx context.Context, table, key string, patch store.Row) (store.Row, error) {
	f.updatedAgents = append(f.updatedAgents, key)
	return store.Row{"id": key}, nil
}

func TestCleanup_StartStop(t *testing.T) {
	fs := &fakeCleanupStore{}
	cleanup := NewCleanup(fs, &CleanupConfig{
		Interval:          50 * time.Millisecond,
		StuckAgentTimeout: time.Hour,
	})

	ctx := context.Background()

	if err := cleanup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !cleanup.IsRunning() {
		t.Error("Expected cleanup to be running")
	}

	if err := cleanup.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}

	if err := cleanup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if cleanup.IsRunning() {
		t.Error("Expected cleanup to not be running")
	}
}

func TestCleanup_StopNotStarted(t *testing.T) {
	fs := &fakeCleanupStore{}
	cleanup := NewCleanup(fs, nil)

	if err := cleanup.Stop(context.Background()); err != ErrNotStarted {
		t.Fatalf("Stop() error = %v, want %v", err, ErrNotStarted)
	}
}

func TestCleanup_RunOnce_StaleInstances(t *testing.T) {
	fs := &fakeCleanupStore{
		instances: store.ResultSet{
			{"id": "instance-1"},
			{"id": "instance-2"},
			{"id": "instance-3"},
		},
	}

	cleanup := NewCleanup(fs, DefaultCleanupConfig())

	result := cleanup.RunOnce(context.Background())

	if result.StaleInstancesCleaned != 3 {
		t.Errorf("StaleInstancesCleaned = %d, want 3", result.StaleInstancesCleaned)
	}

	if len(fs.deletedInstances) != 3 {
		t.Errorf("deletedInstances = %d, want 3", len(fs.deletedInstances))
	}
}

func TestCleanup_RunOnce_StuckAgents(t *testing.T) {
	fs := &fakeCleanupStore{
		agents: store.ResultSet{
			{"id": "agent-1", "state": string(runstate.Processing)},
			{"id": "agent-2", "state": string(runstate.Processing)},
		},
	}

	cleanup := NewCleanup(fs, DefaultCleanupConfig())

	result := cleanup.RunOnce(context.Background())

	if result.StuckAgentsCleaned != 2 {
		t.Errorf("StuckAgentsCleaned = %d, want 2", result.StuckAgentsCleaned)
	}

	if len(fs.updatedAgents) != 2 {
		t.Errorf("updatedAgents = %d, want 2", len(fs.updatedAgents))
	}
}

func TestCleanup_Callbacks(t *testing.T) {
	fs := &fakeCleanupStore{
		instances: store.ResultSet{{"id": "instance-1"}},
		agents:    store.ResultSet{{"id": "agent-1", "state": string(runstate.Processing)}},
	}

	var staleCount, stuckCount atomic.Int32

	cleanup := NewCleanup(fs, &CleanupConfig{
		Interval:          50 * time.Millisecond,
		StuckAgentTimeout: time.Hour,
		OnStaleInstanceCleanup: func(count int) {
			staleCount.Store(int32(count))
		},
		OnStuckAgentCleanup: func(count int) {
			stuckCount.Store(int32(count))
		},
	})

	ctx := context.Background()

	if err := cleanup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := cleanup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if staleCount.Load() != 1 {
		t.Errorf("OnStaleInstanceCleanup count = %d, want 1", staleCount.Load())
	}

	if stuckCount.Load() != 1 {
		t.Errorf("OnStuckAgentCleanup count = %d, want 1", stuckCount.Load())
	}
}

func TestDefaultCleanupConfig(t *testing.T) {
	config := DefaultCleanupConfig()

	if config.Interval != DefaultCleanupInterval {
		t.Errorf("Interval = %v, want %v", config.Interval, DefaultCleanupInterval)
	}

	if config.StuckAgentTimeout != DefaultStuckAgentTimeout {
		t.Errorf("StuckAgentTimeout = %v, want %v", config.StuckAgentTimeout, DefaultStuckAgentTimeout)
	}
}
