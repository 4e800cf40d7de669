package pattern

import (
	"fmt"
	"os"
	"time"

	"github.com/youssefsiam38/pattern/compaction"
	"github.com/youssefsiam38/pattern/embedding"
	"github.com/youssefsiam38/pattern/engine"
	"github.com/youssefsiam38/pattern/hooks"
	"github.com/youssefsiam38/pattern/leadership"
	"github.com/youssefsiam38/pattern/maintenance"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/notifier"
	"github.com/youssefsiam38/pattern/perrors"
	"github.com/youssefsiam38/pattern/store"
	"github.com/youssefsiam38/pattern/tool"
	"github.com/youssefsiam38/pattern/transport"
	"github.com/youssefsiam38/pattern/worker"
)

// Config holds everything a Client needs to wire together, generalizing
// a single-process ClientConfig from a Postgres-driver/Anthropic-only
// shape to an open set of swappable subsystems.
type Config struct {
	// Store is the persistence backend (store/pgstore or store/sqlstore).
	// Required.
	Store store.Store

	// ModelProvider calls the language model. Required.
	ModelProvider model.Provider

	// InstanceID identifies this process among others sharing Store, for
	// leader election, heartbeats, and worker-instance bookkeeping.
	// Defaults to a hostname-based name.
	InstanceID string

	// Embedder produces vectors for archival memory. Nil disables vector
	// search; text search still works.
	Embedder embedding.Provider

	// Transport delivers send_message's target=user/target=data-sink
	// content externally. Nil makes those targets fail explicitly.
	Transport transport.Endpoint

	// Tools are registered in addition to the five built-ins (search,
	// send_message, update_memory, data_source, context).
	Tools []tool.Tool

	// Hooks observes batch lifecycle events. Nil uses an empty registry.
	Hooks *hooks.Registry

	// Migrations is run by Start if non-empty, typically
	// store/pgstore.Migrations() or store/sqlstore.Migrations().
	Migrations []store.Migration

	// NodeID seeds the snowflake position generator. Must be distinct
	// across concurrently running instances sharing Store.
	NodeID int64

	EngineConfig      engine.Config
	CompactionConfig  *compaction.Config
	WorkerConfig      *worker.Config
	LeadershipConfig  *leadership.Config
	HeartbeatConfig   *maintenance.HeartbeatConfig
	CleanupConfig     *maintenance.CleanupConfig
	NotifierConfig    *notifier.Config
	SleeptimeInterval time.Duration
}

// Option configures a Config, following the common options.go pattern
// widened from agent-level sampling knobs to whole-client wiring.
type Option func(*Config) error

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(c *Config) error {
		c.Store = s
		return nil
	}
}

// WithModelProvider sets the model backend. Required.
func WithModelProvider(p model.Provider) Option {
	return func(c *Config) error {
		c.ModelProvider = p
		return nil
	}
}

// WithInstanceID overrides the default hostname-derived instance id.
func WithInstanceID(id string) Option {
	return func(c *Config) error {
		c.InstanceID = id
		return nil
	}
}

// WithEmbedder sets the archival-memory embedding provider.
func WithEmbedder(e embedding.Provider) Option {
	return func(c *Config) error {
		c.Embedder = e
		return nil
	}
}

// WithTransport sets the send_message delivery sink.
func WithTransport(t transport.Endpoint) Option {
	return func(c *Config) error {
		c.Transport = t
		return nil
	}
}

// WithTools registers additional tools alongside the built-ins.
func WithTools(tools ...tool.Tool) Option {
	return func(c *Config) error {
		c.Tools = append(c.Tools, tools...)
		return nil
	}
}

// WithHooks sets the batch-lifecycle hook registry.
func WithHooks(h *hooks.Registry) Option {
	return func(c *Config) error {
		c.Hooks = h
		return nil
	}
}

// WithMigrations sets the schema migrations Start applies.
func WithMigrations(migrations []store.Migration) Option {
	return func(c *Config) error {
		c.Migrations = migrations
		return nil
	}
}

// WithNodeID sets the snowflake node id. Must be unique per running
// instance sharing a Store.
func WithNodeID(n int64) Option {
	return func(c *Config) error {
		c.NodeID = n
		return nil
	}
}

// WithEngineConfig overrides engine.DefaultConfig().
func WithEngineConfig(cfg engine.Config) Option {
	return func(c *Config) error {
		c.EngineConfig = cfg
		return nil
	}
}

// WithCompactionConfig overrides compaction.DefaultConfig().
func WithCompactionConfig(cfg *compaction.Config) Option {
	return func(c *Config) error {
		c.CompactionConfig = cfg
		return nil
	}
}

// WithWorkerConfig overrides worker.DefaultConfig().
func WithWorkerConfig(cfg *worker.Config) Option {
	return func(c *Config) error {
		c.WorkerConfig = cfg
		return nil
	}
}

// WithLeadershipConfig overrides leadership.DefaultConfig().
func WithLeadershipConfig(cfg *leadership.Config) Option {
	return func(c *Config) error {
		c.LeadershipConfig = cfg
		return nil
	}
}

// WithHeartbeatConfig overrides maintenance.DefaultHeartbeatConfig().
func WithHeartbeatConfig(cfg *maintenance.HeartbeatConfig) Option {
	return func(c *Config) error {
		c.HeartbeatConfig = cfg
		return nil
	}
}

// WithCleanupConfig overrides maintenance.DefaultCleanupConfig().
func WithCleanupConfig(cfg *maintenance.CleanupConfig) Option {
	return func(c *Config) error {
		c.CleanupConfig = cfg
		return nil
	}
}

// WithNotifierConfig overrides notifier.DefaultConfig().
func WithNotifierConfig(cfg *notifier.Config) Option {
	return func(c *Config) error {
		c.NotifierConfig = cfg
		return nil
	}
}

// WithSleeptimeInterval sets Config.SleeptimeInterval (5 seconds when not
// positive). New does not pass it on: the sleeptime scheduler ticks at the
// worker's PollInterval from WorkerConfig.
func WithSleeptimeInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.SleeptimeInterval = d
		return nil
	}
}

func (c *Config) setDefaults() {
	if c.InstanceID == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "pattern"
		}
		c.InstanceID = hostname
	}
	if c.NodeID == 0 {
		c.NodeID = 1
	}
	if c.SleeptimeInterval <= 0 {
		c.SleeptimeInterval = 5 * time.Second
	}
	if c.Hooks == nil {
		c.Hooks = hooks.NewRegistry()
	}
}

func (c *Config) validate() error {
	if c.Store == nil {
		return perrors.New("pattern.New", fmt.Errorf("%w: Store is required", perrors.ErrInvalidConfig))
	}
	if c.ModelProvider == nil {
		return perrors.New("pattern.New", fmt.Errorf("%w: ModelProvider is required", perrors.ErrInvalidConfig))
	}
	return nil
}
