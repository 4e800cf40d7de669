// Package pgstore implements store.Store over PostgreSQL using pgx/v5,
// pgvector for embeddings, and native LISTEN/NOTIFY for live queries.
// Generalized from a driver/pgxv5 package: same pool-or-tx
// executor interface, same positional-arg query style, widened from
// entity-specific CRUD methods to the generic record/edge/search contract
// the store.Store contract requires.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/youssefsiam38/pattern/store"
)

// executor is implemented by both *pgxpool.Pool and pgx.Tx, letting every
// method below run either standalone or inside a transaction threaded via
// store.WithTx/store.TxFromContext.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store over a pgx connection pool.
type Store struct {
	pool     *pgxpool.Pool
	notifier *notifier
}

// Open connects to Postgres at dsn and returns a ready Store. Callers
// should follow with Migrate before use.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Store{pool: pool, notifier: newNotifier(pool)}, nil
}

func (s *Store) exec(ctx context.Context) executor {
	if tx, ok := store.TxFromContext(ctx).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func (s *Store) Close() error {
	s.notifier.close()
	s.pool.Close()
	return nil
}

// --- transactions -----------------------------------------------------------

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (s *Store) Begin(ctx context.Context) (context.Context, store.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("pgstore: begin: %w", err)
	}
	return store.WithTx(ctx, tx), &pgTx{tx: tx}, nil
}

// --- generic record operations ---------------------------------------------

func (s *Store) Create(ctx context.Context, table, key string, content store.Row) (store.Row, error) {
	cols := make([]string, 0, len(content)+1)
	vals := make([]any, 0, len(content)+1)
	placeholders := make([]string, 0, len(content)+1)

	cols = append(cols, "id")
	vals = append(vals, key)
	placeholders = append(placeholders, "$1")

	i := 2
	for col, v := range content {
		cols = append(cols, col)
		vals = append(vals, encodeValue(v))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		i++
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pgx.Identifier{table}.Sanitize(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	row, err := s.scanRow(ctx, stmt, vals)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create %s: %w", table, err)
	}
	return row, nil
}

func (s *Store) Select(ctx context.Context, table, key string) (store.Row, bool, error) {
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE id = $1", pgx.Identifier{table}.Sanitize())
	row, err := s.scanRow(ctx, stmt, []any{key})
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pgstore: select %s: %w", table, err)
	}
	return row, true, nil
}

func (s *Store) UpdateMerge(ctx context.Context, table, key string, patch store.Row) (store.Row, error) {
	sets := make([]string, 0, len(patch))
	vals := make([]any, 0, len(patch)+1)
	i := 1
	for col, v := range patch {
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), i))
		vals = append(vals, encodeValue(v))
		i++
	}
	vals = append(vals, key)
	stmt := fmt.Sprintf("UPDATE %s SET %s, updated_at = now() WHERE id = $%d RETURNING *",
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), i)

	row, err := s.scanRow(ctx, stmt, vals)
	if err != nil {
		return nil, fmt.Errorf("pgstore: update_merge %s: %w", table, err)
	}
	return row, nil
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = $1", pgx.Identifier{table}.Sanitize())
	_, err := s.exec(ctx).Exec(ctx, stmt, key)
	if err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", table, err)
	}
	return nil
}

// --- raw query -----------------------------------------------------------

func (s *Store) Query(ctx context.Context, statement string, bindings map[string]any) (store.ResultSet, error) {
	stmt, args := bindNamed(statement, bindings)
	rows, err := s.exec(ctx).Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query failed: %w", err)
	}
	defer rows.Close()
	return rowsToResultSet(rows)
}

func (s *Store) QueryOne(ctx context.Context, statement string, bindings map[string]any, dst any) error {
	rs, err := s.Query(ctx, statement, bindings)
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		return store.ErrNotFoundRow
	}
	return decodeRow(rs[0], dst)
}

func (s *Store) QueryMany(ctx context.Context, statement string, bindings map[string]any, dst any) error {
	rs, err := s.Query(ctx, statement, bindings)
	if err != nil {
		return err
	}
	return decodeRows(rs, dst)
}

// --- edges -----------------------------------------------------------------

func (s *Store) Relate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string, props store.Row) (store.Row, error) {
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("pgstore: marshal edge props: %w", err)
	}
	stmt := `
		INSERT INTO edges (from_table, from_id, relation, to_table, to_id, properties, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (from_table, from_id, relation, to_table, to_id)
		DO UPDATE SET properties = edges.properties || excluded.properties
		RETURNING *`
	row, err := s.scanRow(ctx, stmt, []any{fromTable, fromKey, relation, toTable, toKey, propsJSON})
	if err != nil {
		return nil, fmt.Errorf("pgstore: relate %s->%s->%s: %w", fromTable, relation, toTable, err)
	}
	return row, nil
}

func (s *Store) Unrelate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string) error {
	stmt := `DELETE FROM edges WHERE from_table=$1 AND from_id=$2 AND relation=$3 AND to_table=$4 AND to_id=$5`
	_, err := s.exec(ctx).Exec(ctx, stmt, fromTable, fromKey, relation, toTable, toKey)
	if err != nil {
		return fmt.Errorf("pgstore: unrelate: %w", err)
	}
	return nil
}

func (s *Store) RelatedTo(ctx context.Context, fromTable, fromKey, relation string) ([]store.Row, error) {
	stmt := `SELECT * FROM edges WHERE from_table=$1 AND from_id=$2 AND relation=$3 ORDER BY created_at`
	rows, err := s.exec(ctx).Query(ctx, stmt, fromTable, fromKey, relation)
	if err != nil {
		return nil, fmt.Errorf("pgstore: related_to: %w", err)
	}
	defer rows.Close()
	rs, err := rowsToResultSet(rows)
	return []store.Row(rs), err
}

func (s *Store) RelatedFrom(ctx context.Context, toTable, toKey, relation string) ([]store.Row, error) {
	stmt := `SELECT * FROM edges WHERE to_table=$1 AND to_id=$2 AND relation=$3 ORDER BY created_at`
	rows, err := s.exec(ctx).Query(ctx, stmt, toTable, toKey, relation)
	if err != nil {
		return nil, fmt.Errorf("pgstore: related_from: %w", err)
	}
	defer rows.Close()
	rs, err := rowsToResultSet(rows)
	return []store.Row(rs), err
}

// --- vector and text search --------------------------------------------

func (s *Store) VectorSearch(ctx context.Context, table, field string, vec []float32, k int, filter map[string]any) ([]store.ScoredRow, error) {
	where, args := filterClause(filter, 3)
	stmt := fmt.Sprintf(`
		SELECT *, 1 - (%s <=> $1) AS score FROM %s %s
		ORDER BY %s <=> $1 ASC LIMIT $2`,
		pgx.Identifier{field}.Sanitize(), pgx.Identifier{table}.Sanitize(), where, pgx.Identifier{field}.Sanitize())

	args = append([]any{pgvector.NewVector(vec), k}, args...)
	return s.scoredQuery(ctx, stmt, args)
}

func (s *Store) TextSearch(ctx context.Context, table, field, query string, op store.TextSearchOp, k int, filter map[string]any) ([]store.ScoredRow, error) {
	where, args := filterClause(filter, 3)
	var stmt string
	switch op {
	case store.OpFuzzy2:
		stmt = fmt.Sprintf(`
			SELECT *, similarity(%s, $1) AS score FROM %s %s
			ORDER BY score DESC LIMIT $2`,
			pgx.Identifier{field}.Sanitize(), pgx.Identifier{table}.Sanitize(), where)
	case store.OpFuzzy1:
		stmt = fmt.Sprintf(`
			SELECT *, ts_rank(to_tsvector('english', %s), websearch_to_tsquery('english', $1)) AS score
			FROM %s %s
			WHERE to_tsvector('english', %s) @@ websearch_to_tsquery('english', $1)
			ORDER BY score DESC LIMIT $2`,
			pgx.Identifier{field}.Sanitize(), pgx.Identifier{table}.Sanitize(), where, pgx.Identifier{field}.Sanitize())
	default: // OpExact
		stmt = fmt.Sprintf(`
			SELECT *, ts_rank(to_tsvector('english', %s), plainto_tsquery('english', $1)) AS score
			FROM %s %s
			WHERE to_tsvector('english', %s) @@ plainto_tsquery('english', $1)
			ORDER BY score DESC LIMIT $2`,
			pgx.Identifier{field}.Sanitize(), pgx.Identifier{table}.Sanitize(), where, pgx.Identifier{field}.Sanitize())
	}
	args = append([]any{query, k}, args...)
	return s.scoredQuery(ctx, stmt, args)
}

func (s *Store) scoredQuery(ctx context.Context, stmt string, args []any) ([]store.ScoredRow, error) {
	rows, err := s.exec(ctx).Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: search failed: %w", err)
	}
	defer rows.Close()
	rs, err := rowsToResultSet(rows)
	if err != nil {
		return nil, err
	}
	out := make([]store.ScoredRow, 0, len(rs))
	for _, r := range rs {
		score, _ := r["score"].(float64)
		delete(r, "score")
		out = append(out, store.ScoredRow{Row: r, Score: score})
	}
	return out, nil
}

// --- live queries ------------------------------------------------------

func (s *Store) Live(ctx context.Context, predicate store.Predicate) (<-chan store.Notification, func(), error) {
	return s.notifier.subscribe(ctx, predicate)
}

func (s *Store) Notify(ctx context.Context, channel, payload string) error {
	_, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("pgstore: notify: %w", err)
	}
	return nil
}

// --- leader election -----------------------------------------------------

func (s *Store) LeaderAttemptElect(ctx context.Context, params store.LeaderElectParams) (bool, error) {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO leader_lease (lock_name, leader_id, expires_at)
		VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (lock_name) DO UPDATE
		SET leader_id = excluded.leader_id, expires_at = excluded.expires_at
		WHERE leader_lease.expires_at < now()`,
		params.LockName, params.LeaderID, ttl.String())
	if err != nil {
		return false, fmt.Errorf("pgstore: leader elect: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) LeaderAttemptReelect(ctx context.Context, params store.LeaderElectParams) (bool, error) {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE leader_lease SET expires_at = now() + $3::interval
		WHERE lock_name = $1 AND leader_id = $2`,
		params.LockName, params.LeaderID, ttl.String())
	if err != nil {
		return false, fmt.Errorf("pgstore: leader reelect: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) LeaderResign(ctx context.Context, leaderID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM leader_lease WHERE leader_id = $1`, leaderID)
	if err != nil {
		return fmt.Errorf("pgstore: leader resign: %w", err)
	}
	return nil
}

// --- migrations ------------------------------------------------------------

func (s *Store) Migrate(ctx context.Context, migrations []store.Migration) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("pgstore: ensure migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err := s.pool.QueryRow(ctx, `SELECT true FROM schema_migrations WHERE version = $1`, m.Version).Scan(&applied)
		if err == nil && applied {
			continue
		}
		if err != nil && err != pgx.ErrNoRows {
			return fmt.Errorf("pgstore: check migration %d: %w", m.Version, err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("pgstore: begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("pgstore: apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("pgstore: record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("pgstore: commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// --- helpers -----------------------------------------------------------

func (s *Store) scanRow(ctx context.Context, stmt string, args []any) (store.Row, error) {
	rows, err := s.exec(ctx).Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rs, err := rowsToResultSet(rows)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, pgx.ErrNoRows
	}
	return rs[0], nil
}

func rowsToResultSet(rows pgx.Rows) (store.ResultSet, error) {
	fields := rows.FieldDescriptions()
	var out store.ResultSet
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(store.Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = decodeValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// encodeValue prepares a Go value for storage: maps/slices go through JSON
// so they land in jsonb columns; everything else passes through unchanged.
func encodeValue(v any) any {
	switch v.(type) {
	case map[string]any, []any, []string, []float32:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return b
	default:
		return v
	}
}

// decodeValue best-effort-unmarshals jsonb byte payloads back into Go
// values so callers of Row don't need to know which columns are jsonb.
func decodeValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err == nil {
		return decoded
	}
	return v
}

func decodeRow(row store.Row, dst any) error {
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func decodeRows(rs store.ResultSet, dst any) error {
	b, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// filterClause renders an equality-AND WHERE clause from a map of
// pre-validated filter values, starting parameter numbering at startIdx.
func filterClause(filter map[string]any, startIdx int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	i := startIdx
	for col, v := range filter {
		conds = append(conds, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), i))
		args = append(args, v)
		i++
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// bindNamed rewrites a statement using :name placeholders into a
// positional-arg pgx statement, matching the simple named-binding style
// the store.Store.Query contract implies without requiring a full SQL parser.
func bindNamed(statement string, bindings map[string]any) (string, []any) {
	if len(bindings) == 0 {
		return statement, nil
	}
	stmt := statement
	args := make([]any, 0, len(bindings))
	i := 1
	for name, val := range bindings {
		placeholder := fmt.Sprintf("$%d", i)
		stmt = strings.ReplaceAll(stmt, ":"+name, placeholder)
		args = append(args, val)
		i++
	}
	return stmt, args
}
