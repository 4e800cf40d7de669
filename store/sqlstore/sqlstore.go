// Package sqlstore implements store.Store over database/sql + lib/pq, the
// fallback engine for environments where a native pgx connection (and
// hence LISTEN/NOTIFY streaming) isn't available. Generalized from the
// usual driver/databasesql package: same polling-based Live, same
// otherwise-identical SQL shape as store/pgstore.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/youssefsiam38/pattern/store"
)

// Store implements store.Store over a *sql.DB, without pgvector's native
// distance operators — vector search fetches candidate rows and scores
// them in Go, which is adequate for the small per-agent archival sets this
// fallback targets and requires no pgx-specific type support.
type Store struct {
	db           *sql.DB
	pollInterval time.Duration
}

// Open connects to Postgres via lib/pq at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	return &Store{db: db, pollInterval: 2 * time.Second}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context) execer {
	if tx, ok := store.TxFromContext(ctx).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqlTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func (s *Store) Begin(ctx context.Context) (context.Context, store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, nil, fmt.Errorf("sqlstore: begin: %w", err)
	}
	return store.WithTx(ctx, tx), &sqlTx{tx: tx}, nil
}

func (s *Store) Create(ctx context.Context, table, key string, content store.Row) (store.Row, error) {
	cols := []string{"id"}
	vals := []any{key}
	placeholders := []string{"$1"}
	i := 2
	for col, v := range content {
		cols = append(cols, col)
		vals = append(vals, encodeValue(v))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		i++
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *", quoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return s.queryRowToMap(ctx, stmt, vals)
}

func (s *Store) Select(ctx context.Context, table, key string) (store.Row, bool, error) {
	row, err := s.queryRowToMap(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = $1", quoteIdent(table)), []any{key})
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (s *Store) UpdateMerge(ctx context.Context, table, key string, patch store.Row) (store.Row, error) {
	sets := make([]string, 0, len(patch))
	vals := make([]any, 0, len(patch)+1)
	i := 1
	for col, v := range patch {
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(col), i))
		vals = append(vals, encodeValue(v))
		i++
	}
	vals = append(vals, key)
	stmt := fmt.Sprintf("UPDATE %s SET %s, updated_at = now() WHERE id = $%d RETURNING *", quoteIdent(table), strings.Join(sets, ", "), i)
	return s.queryRowToMap(ctx, stmt, vals)
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	_, err := s.exec(ctx).ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", quoteIdent(table)), key)
	return err
}

func (s *Store) Query(ctx context.Context, statement string, bindings map[string]any) (store.ResultSet, error) {
	stmt, args := bindNamed(statement, bindings)
	rows, err := s.exec(ctx).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	defer rows.Close()
	return scanResultSet(rows)
}

func (s *Store) QueryOne(ctx context.Context, statement string, bindings map[string]any, dst any) error {
	rs, err := s.Query(ctx, statement, bindings)
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		return store.ErrNotFoundRow
	}
	b, _ := json.Marshal(rs[0])
	return json.Unmarshal(b, dst)
}

func (s *Store) QueryMany(ctx context.Context, statement string, bindings map[string]any, dst any) error {
	rs, err := s.Query(ctx, statement, bindings)
	if err != nil {
		return err
	}
	b, _ := json.Marshal(rs)
	return json.Unmarshal(b, dst)
}

func (s *Store) Relate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string, props store.Row) (store.Row, error) {
	propsJSON, _ := json.Marshal(props)
	stmt := `
		INSERT INTO edges (from_table, from_id, relation, to_table, to_id, properties, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (from_table, from_id, relation, to_table, to_id)
		DO UPDATE SET properties = edges.properties || excluded.properties
		RETURNING *`
	return s.queryRowToMap(ctx, stmt, []any{fromTable, fromKey, relation, toTable, toKey, propsJSON})
}

func (s *Store) Unrelate(ctx context.Context, fromTable, fromKey, relation, toTable, toKey string) error {
	_, err := s.exec(ctx).ExecContext(ctx,
		`DELETE FROM edges WHERE from_table=$1 AND from_id=$2 AND relation=$3 AND to_table=$4 AND to_id=$5`,
		fromTable, fromKey, relation, toTable, toKey)
	return err
}

func (s *Store) RelatedTo(ctx context.Context, fromTable, fromKey, relation string) ([]store.Row, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT * FROM edges WHERE from_table=$1 AND from_id=$2 AND relation=$3 ORDER BY created_at`,
		fromTable, fromKey, relation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rs, err := scanResultSet(rows)
	return []store.Row(rs), err
}

func (s *Store) RelatedFrom(ctx context.Context, toTable, toKey, relation string) ([]store.Row, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT * FROM edges WHERE to_table=$1 AND to_id=$2 AND relation=$3 ORDER BY created_at`,
		toTable, toKey, relation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rs, err := scanResultSet(rows)
	return []store.Row(rs), err
}

// VectorSearch fetches up to a generous candidate window of rows and scores
// them client-side with cosine similarity, since database/sql has no
// portable vector-distance operator without a pgx-specific codec.
func (s *Store) VectorSearch(ctx context.Context, table, field string, vec []float32, k int, filter map[string]any) ([]store.ScoredRow, error) {
	where, args := filterClause(filter, 1)
	rows, err := s.exec(ctx).QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s %s LIMIT 500", quoteIdent(table), where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rs, err := scanResultSet(rows)
	if err != nil {
		return nil, err
	}
	scored := make([]store.ScoredRow, 0, len(rs))
	for _, r := range rs {
		raw, ok := r[field]
		if !ok {
			continue
		}
		candidate, ok := toFloat32Slice(raw)
		if !ok {
			continue
		}
		delete(r, field)
		scored = append(scored, store.ScoredRow{Row: r, Score: cosineSimilarity(vec, candidate)})
	}
	return topK(scored, k), nil
}

func (s *Store) TextSearch(ctx context.Context, table, field, query string, op store.TextSearchOp, k int, filter map[string]any) ([]store.ScoredRow, error) {
	where, args := filterClause(filter, 3)
	var stmt string
	switch op {
	case store.OpFuzzy2:
		stmt = fmt.Sprintf(`SELECT *, similarity(%s, $1) AS score FROM %s %s ORDER BY score DESC LIMIT $2`, quoteIdent(field), quoteIdent(table), where)
	case store.OpFuzzy1:
		stmt = fmt.Sprintf(`SELECT *, ts_rank(to_tsvector('english', %s), websearch_to_tsquery('english', $1)) AS score
			FROM %s %s WHERE to_tsvector('english', %s) @@ websearch_to_tsquery('english', $1)
			ORDER BY score DESC LIMIT $2`, quoteIdent(field), quoteIdent(table), where, quoteIdent(field))
	default:
		stmt = fmt.Sprintf(`SELECT *, ts_rank(to_tsvector('english', %s), plainto_tsquery('english', $1)) AS score
			FROM %s %s WHERE to_tsvector('english', %s) @@ plainto_tsquery('english', $1)
			ORDER BY score DESC LIMIT $2`, quoteIdent(field), quoteIdent(table), where, quoteIdent(field))
	}
	args = append([]any{query, k}, args...)
	rows, err := s.exec(ctx).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rs, err := scanResultSet(rows)
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

// Live polls the table for rows whose updated_at advanced since the last
// tick, since database/sql has no LISTEN/NOTIFY subscription model.
func (s *Store) Live(ctx context.Context, predicate store.Predicate) (<-chan store.Notification, func(), error) {
	ch := make(chan store.Notification, 64)
	stopCh := make(chan struct{})

	go func() {
		defer close(ch)
		last := time.Now()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				rows, err := s.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE updated_at > :since", quoteIdent(predicate.Table)),
					map[string]any{"since": last})
				if err != nil {
					continue
				}
				last = time.Now()
				for _, r := range rows {
					if !matchesFilters(r, predicate.Filters) {
						continue
					}
					select {
					case ch <- store.Notification{Action: store.ActionUpdate, Table: predicate.Table, Row: r}:
					default:
					}
				}
			}
		}
	}()

	return ch, func() { close(stopCh) }, nil
}

func (s *Store) Notify(ctx context.Context, channel, payload string) error {
	_, err := s.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return err
}

func (s *Store) LeaderAttemptElect(ctx context.Context, params store.LeaderElectParams) (bool, error) {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leader_lease (lock_name, leader_id, expires_at)
		VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (lock_name) DO UPDATE
		SET leader_id = excluded.leader_id, expires_at = excluded.expires_at
		WHERE leader_lease.expires_at < now()`,
		params.LockName, params.LeaderID, ttl.String())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) LeaderAttemptReelect(ctx context.Context, params store.LeaderElectParams) (bool, error) {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE leader_lease SET expires_at = now() + $3::interval
		WHERE lock_name = $1 AND leader_id = $2`,
		params.LockName, params.LeaderID, ttl.String())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) LeaderResign(ctx context.Context, leaderID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leader_lease WHERE leader_id = $1`, leaderID)
	return err
}

func (s *Store) Migrate(ctx context.Context, migrations []store.Migration) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return err
	}
	for _, m := range migrations {
		var applied bool
		err := s.db.QueryRowContext(ctx, `SELECT true FROM schema_migrations WHERE version=$1`, m.Version).Scan(&applied)
		if err == nil && applied {
			continue
		}
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlstore: migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1,$2)`, m.Version, m.Name); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) queryRowToMap(ctx context.Context, stmt string, args []any) (store.Row, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rs, err := scanResultSet(rows)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, sql.ErrNoRows
	}
	return rs[0], nil
}

func scanResultSet(rows *sql.Rows) (store.ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out store.ResultSet
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(store.Row, len(cols))
		for i, c := range cols {
			row[c] = decodeValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

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

func matchesFilters(row store.Row, filters map[string]string) bool {
	for col, want := range filters {
		got, ok := row[col]
		if !ok {
			return false
		}
		if s, ok := got.(string); ok {
			if s != want {
				return false
			}
			continue
		}
		b, _ := json.Marshal(got)
		if string(b) != want {
			return false
		}
	}
	return true
}

func filterClause(filter map[string]any, startIdx int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	i := startIdx
	for col, v := range filter {
		conds = append(conds, fmt.Sprintf("%s = $%d", quoteIdent(col), i))
		args = append(args, v)
		i++
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func bindNamed(statement string, bindings map[string]any) (string, []any) {
	if len(bindings) == 0 {
		return statement, nil
	}
	stmt := statement
	args := make([]any, 0, len(bindings))
	i := 1
	for name, val := range bindings {
		stmt = strings.ReplaceAll(stmt, ":"+name, fmt.Sprintf("$%d", i))
		args = append(args, val)
		i++
	}
	return stmt, args
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func toFloat32Slice(v any) ([]float32, bool) {
	switch raw := v.(type) {
	case []any:
		out := make([]float32, len(raw))
		for i, x := range raw {
			f, ok := x.(float64)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	case []float32:
		return raw, true
	default:
		return nil, false
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func topK(rows []store.ScoredRow, k int) []store.ScoredRow {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].Score > rows[j-1].Score; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
	if k < len(rows) {
		return rows[:k]
	}
	return rows
}
