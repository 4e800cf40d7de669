// Package store defines the persistence contract: an embedded multi-model
// store supporting schema-typed records, graph edges, vector and full-text
// search, and live-query subscriptions. Two concrete
// implementations exist: store/pgstore (PostgreSQL + pgx + pgvector, the
// primary engine) and store/sqlstore (database/sql + lib/pq, a
// polling-only fallback for environments without a LISTEN/NOTIFY driver).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFoundRow is returned by QueryOne when the statement matched no rows.
var ErrNotFoundRow = errors.New("store: no matching row")

// Row is a single record as returned by the store: a bag of column values
// keyed by field name, always including "id".
type Row map[string]any

// ResultSet is the raw result of Query: one Row per matched record.
type ResultSet []Row

// TextSearchOp selects how TextSearch matches its query against the field.
type TextSearchOp string

const (
	OpExact  TextSearchOp = "exact"  // ts_rank over tsvector, AND-ed terms
	OpFuzzy1 TextSearchOp = "fuzzy1" // websearch_to_tsquery, OR-ish relaxed matching
	OpFuzzy2 TextSearchOp = "fuzzy2" // pg_trgm similarity / edit-distance fallback
)

// NotificationAction enumerates the kinds of change a live query reports.
type NotificationAction string

const (
	ActionCreate NotificationAction = "create"
	ActionUpdate NotificationAction = "update"
	ActionDelete NotificationAction = "delete"
)

// Notification is one event delivered to a live-query subscriber.
type Notification struct {
	Action NotificationAction
	Table  string
	Row    Row
}

// Predicate describes a live-query watch: a table plus pre-validated,
// already-interpolated filter clauses (never raw user text, matching the
// invariant that LIVE SELECT WHERE clauses cannot use bound parameters and
// so must be built from pre-validated typed values).
type Predicate struct {
	Table   string
	Filters map[string]string // column -> literal SQL-safe value, pre-escaped by the caller
}

// ScoredRow pairs a result row with its relevance/similarity score.
type ScoredRow struct {
	Row   Row
	Score float64
}

// Migration is one version-tracked, idempotent schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// Store is the engine-agnostic persistence contract (the public
// operation list, verbatim).
type Store interface {
	Query(ctx context.Context, statement string, bindings map[string]any) (ResultSet, error)
	QueryOne(ctx context.Context, statement string, bindings map[string]any, dst any) error
	QueryMany(ctx context.Context, statement string, bindings map[string]any, dst any) error

	Create(ctx context.Context, table, key string, content Row) (Row, error)
	Select(ctx context.Context, table, key string) (Row, bool, error)
	UpdateMerge(ctx context.Context, table, key string, patch Row) (Row, error)
	Delete(ctx context.Context, table, key string) error

	Relate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string, props Row) (Row, error)
	Unrelate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string) error
	RelatedTo(ctx context.Context, fromTable, fromKey, relation string) ([]Row, error)
	RelatedFrom(ctx context.Context, toTable, toKey, relation string) ([]Row, error)

	VectorSearch(ctx context.Context, table, field string, vector []float32, k int, filter map[string]any) ([]ScoredRow, error)
	TextSearch(ctx context.Context, table, field, query string, op TextSearchOp, k int, filter map[string]any) ([]ScoredRow, error)

	Live(ctx context.Context, predicate Predicate) (<-chan Notification, func(), error)
	Notify(ctx context.Context, channel, payload string) error

	Migrate(ctx context.Context, migrations []Migration) error

	// Leader election, used by package leadership for both the global
	// "cluster leader" role and per-group single-writer locks.
	LeaderAttemptElect(ctx context.Context, params LeaderElectParams) (bool, error)
	LeaderAttemptReelect(ctx context.Context, params LeaderElectParams) (bool, error)
	LeaderResign(ctx context.Context, leaderID string) error

	Close() error
}

// LeaderElectParams parameterizes a leader-election attempt.
type LeaderElectParams struct {
	LockName string // "" for the global cluster leader, or "group:<id>" for a per-group lock
	LeaderID string
	TTL      time.Duration
}

// txKey is the context key the WithTx/TxFromContext pattern uses
// to thread a transaction through nested Store calls without changing every
// call site's signature.
type txKey struct{}

// WithTx returns a context carrying tx, so Store methods called with it
// participate in the same transaction.
func WithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction stashed by WithTx, if any.
func TxFromContext(ctx context.Context) any {
	return ctx.Value(txKey{})
}

// Tx begins a new transaction and returns a context carrying it plus a
// commit/rollback pair, generalizing the pool.Begin/tx.Commit
// idiom behind the engine-agnostic Store interface.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transactor is implemented by stores that support explicit transactions.
type Transactor interface {
	Begin(ctx context.Context) (context.Context, Tx, error)
}
