// Package testutil provides test doubles shared across package tests: an
// in-memory store.Store (FakeStore) and a scripted model.Provider
// (FakeProvider), plus a thin TestDB helper for the handful of tests that
// want a real PostgreSQL instance (store/pgstore's own suite).
package testutil

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/store"
)

// TestDB wraps a PostgreSQL connection pool for store/pgstore's own
// integration suite. Unit tests throughout the rest of the module use
// FakeStore instead and never need a live database.
type TestDB struct {
	Pool *pgxpool.Pool
}

// NewTestDB creates a test database connection from DATABASE_URL env var.
// Skips the test if DATABASE_URL is not set.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to ping database: %v", err)
	}

	return &TestDB{Pool: pool}
}

// Close closes the database connection.
func (db *TestDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// CleanTables truncates every table this module's schema declares, for
// test isolation between runs against the same database.
func (db *TestDB) CleanTables(ctx context.Context) error {
	tables := []string{
		"owns", "remembers", "agent_memories", "agent_messages", "tool_calls",
		"group_members", "group_shared_blocks", "subtask_of", "constellation_agents",
		"tool_call", "msg", "mem", "agent", "group", "data_source",
		"worker_instance", "system_metadata", "user",
	}
	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf(`TRUNCATE TABLE %q CASCADE`, table)); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// RequireIntegration skips the test if not running against a real database.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
}

// FakeStore is a hermetic, in-memory store.Store: every row keyed by its
// id regardless of table (this module's ids are globally unique typed
// UUIDs, so this never collides across tables), edges keyed by
// "fromTable:fromKey:relation" in the forward direction and mirrored under
// "toTable:toKey:relation" for RelatedFrom. Good enough for every unit test
// in this module; store/pgstore and store/sqlstore carry the real engine
// semantics (transactions, LISTEN/NOTIFY, vector/text search).
type FakeStore struct {
	mu    sync.Mutex
	rows  map[string]store.Row
	edges map[string][]store.Row
	lease map[string]leaseEntry
}

type leaseEntry struct {
	leaderID string
	expires  time.Time
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		rows:  make(map[string]store.Row),
		edges: make(map[string][]store.Row),
		lease: make(map[string]leaseEntry),
	}
}

func cloneRow(r store.Row) store.Row {
	out := make(store.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (f *FakeStore) Create(ctx context.Context, table, key string, content store.Row) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := cloneRow(content)
	row["id"] = key
	f.rows[key] = row
	return cloneRow(row), nil
}

func (f *FakeStore) Select(ctx context.Context, table, key string) (store.Row, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key]
	if !ok {
		return nil, false, nil
	}
	return cloneRow(row), true, nil
}

func (f *FakeStore) UpdateMerge(ctx context.Context, table, key string, patch store.Row) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key]
	if !ok {
		row = store.Row{"id": key}
	}
	for k, v := range patch {
		row[k] = v
	}
	f.rows[key] = row
	return cloneRow(row), nil
}

func (f *FakeStore) Delete(ctx context.Context, table, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, key)
	return nil
}

func (f *FakeStore) Relate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string, props store.Row) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fwd := store.Row{"from_id": fromKey, "to_id": toKey}
	for k, v := range props {
		fwd[k] = v
	}
	f.edges[fromTable+":"+fromKey+":"+relation] = append(f.edges[fromTable+":"+fromKey+":"+relation], cloneRow(fwd))

	rev := store.Row{"from_id": fromKey, "to_id": toKey}
	for k, v := range props {
		rev[k] = v
	}
	f.edges[toTable+":"+toKey+":"+relation] = append(f.edges[toTable+":"+toKey+":"+relation], cloneRow(rev))

	return cloneRow(fwd), nil
}

func (f *FakeStore) Unrelate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fwdKey := fromTable + ":" + fromKey + ":" + relation
	f.edges[fwdKey] = filterEdges(f.edges[fwdKey], toKey)
	revKey := toTable + ":" + toKey + ":" + relation
	f.edges[revKey] = filterEdges(f.edges[revKey], fromKey)
	return nil
}

func filterEdges(edges []store.Row, drop string) []store.Row {
	out := edges[:0]
	for _, e := range edges {
		if e["to_id"] != drop && e["from_id"] != drop {
			out = append(out, e)
		}
	}
	return out
}

func (f *FakeStore) RelatedTo(ctx context.Context, fromTable, fromKey, relation string) ([]store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRows(f.edges[fromTable+":"+fromKey+":"+relation]), nil
}

func (f *FakeStore) RelatedFrom(ctx context.Context, toTable, toKey, relation string) ([]store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRows(f.edges[toTable+":"+toKey+":"+relation]), nil
}

func cloneRows(rows []store.Row) []store.Row {
	out := make([]store.Row, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out
}

// Query ignores statement entirely and returns every stored row. When
// bindings["__table"] is set, only rows whose own "__table" column equals
// it are kept; Create does not set that column, so such a filter matches
// only rows stored with an explicit "__table" field. This module's own
// code never relies on it (real callers use pgstore/sqlstore); most tests
// instead exercise Select/RelatedTo directly.
func (f *FakeStore) Query(ctx context.Context, statement string, bindings map[string]any) (store.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table, _ := bindings["__table"].(string)
	var out store.ResultSet
	for _, row := range f.rows {
		if table != "" && row["__table"] != table {
			continue
		}
		out = append(out, cloneRow(row))
	}
	return out, nil
}

func (f *FakeStore) QueryOne(ctx context.Context, statement string, bindings map[string]any, dst any) error {
	return fmt.Errorf("testutil.FakeStore: QueryOne not supported, use Select")
}

func (f *FakeStore) QueryMany(ctx context.Context, statement string, bindings map[string]any, dst any) error {
	return fmt.Errorf("testutil.FakeStore: QueryMany not supported, use Query")
}

func (f *FakeStore) VectorSearch(ctx context.Context, table, field string, vector []float32, k int, filter map[string]any) ([]store.ScoredRow, error) {
	return nil, nil
}

// TextSearch does a case-insensitive substring match over field, ranking
// by match count — good enough to exercise memory.Manager.SearchArchival
// and the search built-in without a real tsvector/pg_trgm index.
func (f *FakeStore) TextSearch(ctx context.Context, table, field, query string, op store.TextSearchOp, k int, filter map[string]any) ([]store.ScoredRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := strings.ToLower(query)
	var scored []store.ScoredRow
	for _, row := range f.rows {
		text, _ := row[field].(string)
		count := strings.Count(strings.ToLower(text), q)
		if count == 0 {
			continue
		}
		if !matchesFilter(row, filter) {
			continue
		}
		scored = append(scored, store.ScoredRow{Row: cloneRow(row), Score: float64(count)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func matchesFilter(row store.Row, filter map[string]any) bool {
	for k, v := range filter {
		if row[k] != v {
			return false
		}
	}
	return true
}

func (f *FakeStore) Live(ctx context.Context, predicate store.Predicate) (<-chan store.Notification, func(), error) {
	ch := make(chan store.Notification)
	return ch, func() { close(ch) }, nil
}

func (f *FakeStore) Notify(ctx context.Context, channel, payload string) error { return nil }

func (f *FakeStore) Migrate(ctx context.Context, migrations []store.Migration) error { return nil }

func (f *FakeStore) LeaderAttemptElect(ctx context.Context, params store.LeaderElectParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	existing, ok := f.lease[params.LockName]
	if ok && existing.leaderID != params.LeaderID && existing.expires.After(now) {
		return false, nil
	}
	f.lease[params.LockName] = leaseEntry{leaderID: params.LeaderID, expires: now.Add(params.TTL)}
	return true, nil
}

func (f *FakeStore) LeaderAttemptReelect(ctx context.Context, params store.LeaderElectParams) (bool, error) {
	return f.LeaderAttemptElect(ctx, params)
}

func (f *FakeStore) LeaderResign(ctx context.Context, leaderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, entry := range f.lease {
		if entry.leaderID == leaderID {
			delete(f.lease, name)
		}
	}
	return nil
}

func (f *FakeStore) Close() error { return nil }

// FakeProvider is a scripted model.Provider: each Complete call consumes
// the next response in Responses (or the last one, repeated, once
// exhausted), matching the per-package fakeProvider idiom used throughout
// this module's tests before this shared version existed.
type FakeProvider struct {
	mu        sync.Mutex
	Responses []*model.Response
	Errs      []error
	Calls     []model.Request
}

func NewFakeProvider(responses ...*model.Response) *FakeProvider {
	return &FakeProvider{Responses: responses}
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.Calls)
	f.Calls = append(f.Calls, req)

	if i < len(f.Errs) && f.Errs[i] != nil {
		return nil, f.Errs[i]
	}
	if len(f.Responses) == 0 {
		return EndTurnResponse("ok"), nil
	}
	if i >= len(f.Responses) {
		return f.Responses[len(f.Responses)-1], nil
	}
	return f.Responses[i], nil
}

// EndTurnResponse builds a canned terminal assistant reply.
func EndTurnResponse(text string) *model.Response {
	return &model.Response{
		Message: &message.Message{
			ID:      id.NewMessageID(),
			Role:    message.RoleAssistant,
			Content: []message.ContentBlock{{Type: message.ContentTypeText, Text: text}},
		},
		StopReason: runstate.StopReasonEndTurn,
		Usage:      message.Usage{InputTokens: 5, OutputTokens: 5},
	}
}
