// Package pattern is the module's public façade: one Client wiring
// storage, the agent engine, memory, tools, groups, the background worker
// pool, leadership election, maintenance sweeps, and data-source ingestion
// into the single embeddable entry point every other package in this
// module was built to be assembled into. It generalizes a
// per-client Client[TTx]/ClientConfig/options.go shape (no global state,
// functional options over a validated config, register-then-Start
// lifecycle) from a fixed Postgres-and-Anthropic stack to any
// store.Store/model.Provider pair.
package pattern

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/youssefsiam38/pattern/compaction"
	"github.com/youssefsiam38/pattern/ctxassembly"
	"github.com/youssefsiam38/pattern/datasource"
	"github.com/youssefsiam38/pattern/engine"
	"github.com/youssefsiam38/pattern/group"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/leadership"
	"github.com/youssefsiam38/pattern/maintenance"
	"github.com/youssefsiam38/pattern/memory"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/notifier"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/store"
	"github.com/youssefsiam38/pattern/tool"
	"github.com/youssefsiam38/pattern/tool/builtin"
	"github.com/youssefsiam38/pattern/worker"
)

// Client is the embeddable entry point: construct with New, Start it, then
// drive agents through CreateAgent/SendMessage/CreateGroup/SendToGroup.
type Client struct {
	config *Config

	store       store.Store
	memory      *memory.Manager
	tools       *tool.Registry
	engine      *engine.Engine
	groups      *group.Coordinator
	worker      *worker.Worker
	notifier    *notifier.Notifier
	dataSources *datasource.Coordinator
	elector     *leadership.Elector
	heartbeat   *maintenance.Heartbeat
	cleanup     *maintenance.Cleanup

	mu      sync.Mutex
	started bool
}

// New builds a Client from opts. Store and ModelProvider are required;
// everything else defaults sensibly. New does not touch the store or start
// any background work — call Start for that.
func New(opts ...Option) (*Client, error) {
	cfg := &Config{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, perrors.New("pattern.New", err)
		}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mem := memory.New(cfg.Store, cfg.Embedder)

	registry := tool.NewRegistry()
	builtins := []tool.Tool{
		builtin.NewSearchTool(),
		builtin.NewSendMessageTool(),
		builtin.NewUpdateMemoryTool(),
		builtin.NewDataSourceTool(),
		builtin.NewContextTool(),
	}
	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return nil, perrors.New("pattern.New", fmt.Errorf("register builtin %q: %w", t.Name(), err))
		}
	}
	for _, t := range cfg.Tools {
		if err := registry.Register(t); err != nil {
			return nil, perrors.New("pattern.New", fmt.Errorf("register tool %q: %w", t.Name(), err))
		}
	}

	var anthropicClient *anthropic.Client
	if ap, ok := cfg.ModelProvider.(*model.AnthropicProvider); ok {
		anthropicClient = ap.Client()
	}
	compactor := compaction.New(cfg.Store, mem, cfg.ModelProvider, anthropicClient, cfg.CompactionConfig)

	eng := engine.New(cfg.Store, mem, registry, cfg.ModelProvider, cfg.Hooks, compactor, cfg.NodeID, cfg.EngineConfig)
	eng.SetTransport(cfg.Transport)

	dataSources := datasource.New(cfg.Store)
	eng.SetDataSources(dataSources)

	groups := group.New(cfg.Store, eng, cfg.InstanceID)

	notif := notifier.New(cfg.Store, cfg.NotifierConfig)

	c := &Client{
		config:      cfg,
		store:       cfg.Store,
		memory:      mem,
		tools:       registry,
		engine:      eng,
		groups:      groups,
		notifier:    notif,
		dataSources: dataSources,
	}

	c.worker = worker.New(cfg.Store, eng, groups, notif, c.ownerOf, cfg.WorkerConfig)

	c.elector = leadership.NewElector(cfg.Store, "", cfg.InstanceID, cfg.LeadershipConfig, leadership.Callbacks{
		OnBecameLeader: func(ctx context.Context) {
			_ = c.heartbeat.Start(ctx)
			_ = c.cleanup.Start(ctx)
		},
		OnLostLeadership: func(ctx context.Context) {
			_ = c.heartbeat.Stop(ctx)
			_ = c.cleanup.Stop(ctx)
		},
	})
	c.heartbeat = maintenance.NewHeartbeat(cfg.Store, cfg.InstanceID, cfg.HeartbeatConfig)
	c.cleanup = maintenance.NewCleanup(cfg.Store, cfg.CleanupConfig)

	return c, nil
}

// ownerOf resolves agentID's owning user via the owns edge, the same
// lookup group.Coordinator.WakeSleeptime uses.
func (c *Client) ownerOf(ctx context.Context, agentID id.AgentID) (id.UserID, error) {
	edges, err := c.store.RelatedFrom(ctx, "agent", agentID.String(), "owns")
	if err != nil {
		return id.UserID{}, fmt.Errorf("pattern: resolve owner for %s: %w", agentID, err)
	}
	if len(edges) == 0 {
		return id.UserID{}, perrors.ForAgent("pattern.ownerOf", agentID, perrors.ErrNotFound)
	}
	from, _ := edges[0]["from_id"].(string)
	return id.ParseUserID(from)
}

// Start applies Config.Migrations (if any), then starts leader election,
// the worker pool, and — once elected — the heartbeat/cleanup sweeps. Only
// the elected instance in a cluster sharing Store runs heartbeat/cleanup;
// every instance runs a worker pool and participates in election.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return perrors.New("pattern.Start", perrors.ErrClientAlreadyStarted)
	}

	if len(c.config.Migrations) > 0 {
		if err := c.store.Migrate(ctx, c.config.Migrations); err != nil {
			return perrors.New("pattern.Start", fmt.Errorf("migrate: %w", err))
		}
	}

	if err := c.elector.Start(ctx); err != nil {
		return perrors.New("pattern.Start", fmt.Errorf("start leader election: %w", err))
	}
	if err := c.worker.Start(ctx); err != nil {
		_ = c.elector.Stop(ctx)
		return perrors.New("pattern.Start", fmt.Errorf("start worker: %w", err))
	}

	c.started = true
	return nil
}

// Stop gracefully shuts down every background component started by Start.
// The Store itself is left open — callers that constructed it own closing
// it.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return perrors.New("pattern.Stop", perrors.ErrClientNotStarted)
	}
	c.started = false
	c.mu.Unlock()

	var errs []error
	if err := c.worker.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	// heartbeat/cleanup only ever started if this instance won the leader
	// election; most instances in a cluster never do, so ErrNotStarted here
	// is the expected case, not a failure.
	if err := c.heartbeat.Stop(ctx); err != nil && !errors.Is(err, maintenance.ErrNotStarted) {
		errs = append(errs, err)
	}
	if err := c.cleanup.Stop(ctx); err != nil && !errors.Is(err, maintenance.ErrNotStarted) {
		errs = append(errs, err)
	}
	if err := c.elector.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	c.notifier.Close()

	if len(errs) > 0 {
		return perrors.New("pattern.Stop", fmt.Errorf("%v", errs))
	}
	return nil
}

// InstanceID returns this Client's identifier in the shared Store.
func (c *Client) InstanceID() string { return c.config.InstanceID }

// Store exposes the underlying persistence layer for callers that need
// direct access beyond Client's own operations (e.g. custom tools built
// outside package tool/builtin).
func (c *Client) Store() store.Store { return c.store }

// Memory exposes the memory manager directly, for callers building custom
// tools or embedding Pattern inside a larger service.
func (c *Client) Memory() *memory.Manager { return c.memory }

// CreateAgent registers a new agent row owned by ownerID and returns its
// id, ready to receive messages via SendMessage.
func (c *Client) CreateAgent(ctx context.Context, ownerID id.UserID, agentType, name, systemPrompt, modelName string) (id.AgentID, error) {
	agentID := id.NewAgentID()
	now := time.Now().UTC()
	row := store.Row{
		"id":            agentID.String(),
		"type":          agentType,
		"name":          name,
		"system_prompt": systemPrompt,
		"model":         modelName,
		"state":         "ready",
		"active":        true,
		"created_at":    now,
		"updated_at":    now,
	}
	if _, err := c.store.Create(ctx, "agent", agentID.String(), row); err != nil {
		return id.AgentID{}, perrors.New("pattern.CreateAgent", err)
	}
	if _, err := c.store.Relate(ctx, "user", ownerID.String(), "owns", "agent", agentID.String(), nil); err != nil {
		return id.AgentID{}, perrors.New("pattern.CreateAgent", err)
	}
	return agentID, nil
}

// SuspendAgent takes agentID offline: active is set to false and its state
// transitions to runstate.Suspended. A suspended agent is skipped by every
// group manager's eligibility filter and rejected by engine.ProcessBatch
// until ResumeAgent brings it back.
func (c *Client) SuspendAgent(ctx context.Context, agentID id.AgentID) error {
	return c.transitionAgent(ctx, agentID, runstate.Suspended, false)
}

// ResumeAgent brings a Suspended agent back to runstate.Ready with
// active=true.
func (c *Client) ResumeAgent(ctx context.Context, agentID id.AgentID) error {
	return c.transitionAgent(ctx, agentID, runstate.Ready, true)
}

func (c *Client) transitionAgent(ctx context.Context, agentID id.AgentID, target runstate.State, active bool) error {
	row, ok, err := c.store.Select(ctx, "agent", agentID.String())
	if err != nil {
		return perrors.ForAgent("pattern.transitionAgent", agentID, err)
	}
	if !ok {
		return perrors.ForAgent("pattern.transitionAgent", agentID, perrors.ErrNotFound)
	}
	current := runstate.State(str(row["state"]))
	if err := runstate.Transition(current, target); err != nil {
		return perrors.ForAgent("pattern.transitionAgent", agentID, err)
	}
	if _, err := c.store.UpdateMerge(ctx, "agent", agentID.String(), store.Row{
		"state":      string(target),
		"active":     active,
		"updated_at": time.Now().UTC(),
	}); err != nil {
		return perrors.ForAgent("pattern.transitionAgent", agentID, err)
	}
	return nil
}

// CreateGroup registers a multi-agent group under cfg's coordination
// pattern (group.RoundRobin, group.Supervisor, group.Dynamic, or
// group.Sleeptime).
func (c *Client) CreateGroup(ctx context.Context, name, description string, members []id.AgentID, roles map[id.AgentID]string, cfg group.ManagerConfig, sharedBlocks []id.MemoryBlockID) (id.GroupID, error) {
	return c.groups.CreateGroup(ctx, name, description, members, roles, cfg, sharedBlocks)
}

// MemoryBlockKind selects which of CreateMemoryBlock's three backing
// memory.Manager constructors to use.
type MemoryBlockKind string

const (
	MemoryBlockCore     MemoryBlockKind = "core"
	MemoryBlockArchival MemoryBlockKind = "archival"
	MemoryBlockRecall   MemoryBlockKind = "recall"
)

// CreateMemoryBlock creates a memory block of the given kind owned by
// ownerID. maxLength only applies to core blocks; it is ignored otherwise.
func (c *Client) CreateMemoryBlock(ctx context.Context, ownerID id.UserID, kind MemoryBlockKind, label, content string, maxLength int) (*memory.Block, error) {
	switch kind {
	case MemoryBlockCore:
		return c.memory.CreateCore(ctx, ownerID, label, content, maxLength)
	case MemoryBlockArchival:
		return c.memory.CreateArchival(ctx, ownerID, label, content)
	case MemoryBlockRecall:
		return c.memory.CreateRecall(ctx, ownerID, label, content)
	default:
		return nil, perrors.New("pattern.CreateMemoryBlock", fmt.Errorf("%w: unknown kind %q", perrors.ErrInvalidArguments, kind))
	}
}

// SendMessage appends content to agentID's message log and returns the
// batch id; the background worker pool picks it up and drives
// engine.ProcessBatch once the agent is Ready. Callers that need the
// reply synchronously should use Subscribe or poll the agent's messages
// directly instead of waiting on the returned batch id.
func (c *Client) SendMessage(ctx context.Context, agentID id.AgentID, content []message.ContentBlock) (int64, error) {
	return c.engine.SubmitMessage(ctx, agentID, content)
}

// SendToGroup drives one synchronous turn of groupID's coordination
// pattern on behalf of ownerID and returns every reply the turn produced.
func (c *Client) SendToGroup(ctx context.Context, groupID id.GroupID, ownerID id.UserID, content []message.ContentBlock) (*group.TurnResult, error) {
	return c.groups.SendToGroup(ctx, groupID, ownerID, content)
}

// RecoverAgent applies agentID's persisted recovery strategy and resumes
// it, for an operator acting on an agent stuck in runstate.Error. Returns
// (nil, nil) if the agent is not currently in Error (a prior call already
// recovered it), and an error wrapping ErrPermissionDenied if the
// persisted strategy requires manual intervention instead.
func (c *Client) RecoverAgent(ctx context.Context, agentID id.AgentID) (*engine.Result, error) {
	ownerID, err := c.ownerOf(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return c.engine.ApplyRecovery(ctx, agentID, ownerID, ctxassembly.Options{})
}

// Subscribe wraps notifier.Notifier.Subscribe: handler is called for every
// matching domain event (store.Live under the hood) until the returned
// unsubscribe func is called.
func (c *Client) Subscribe(ctx context.Context, eventType notifier.EventType, agentID string, handler notifier.Handler) (func(), error) {
	return c.notifier.Subscribe(ctx, eventType, agentID, handler)
}

// RegisterDataSource wires an ingestion source into the data-source
// coordinator; items it emits are buffered, rendered through template, and
// forwarded to targetAgent as system messages.
func (c *Client) RegisterDataSource(ctx context.Context, kind string, src datasource.Source, targetAgent id.AgentID, templateName, template string, bufferCapacity int, initialCursor datasource.Cursor) (id.DataSourceID, error) {
	return c.dataSources.Register(ctx, kind, src, targetAgent, templateName, template, bufferCapacity, initialCursor)
}
