package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// PostgresStore implements Store on a membership_document table. Documents
// live in a jsonb column keyed by the document key; a version column carries
// the optimistic concurrency check.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed document store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
	}
}

// OpenSession starts a new unit of work against the store.
func (s *PostgresStore) OpenSession() Session {
	return &pgSession{
		pool:    s.pool,
		loaded:  make(map[string]int64),
		deletes: make(map[string]bool),
	}
}

type pgSession struct {
	pool    *pgxpool.Pool
	loaded  map[string]int64
	writes  []Document
	deletes map[string]bool
}

func (s *pgSession) Load(ctx context.Context, key string, out any) (bool, error) {
	var version int64
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT version, data FROM membership_document WHERE key = $1`, key).
		Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		s.loaded[key] = 0
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load document %s: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode document %s: %w", key, err)
	}
	s.loaded[key] = version
	return true, nil
}

func (s *pgSession) LoadMany(ctx context.Context, keys []string, each func(key string, raw json.RawMessage) error) error {
	if len(keys) == 0 {
		return nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT key, version, data FROM membership_document WHERE key = ANY($1) ORDER BY key`, keys)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(keys))
	for rows.Next() {
		var key string
		var version int64
		var data []byte
		if err := rows.Scan(&key, &version, &data); err != nil {
			return fmt.Errorf("failed to scan document: %w", err)
		}
		found[key] = true
		s.loaded[key] = version
		if err := each(key, data); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}

	for _, key := range keys {
		if !found[key] {
			s.loaded[key] = 0
		}
	}
	return nil
}

func (s *pgSession) Query(collection string) *Query {
	return newQuery(collection, s)
}

func (s *pgSession) Store(doc Document) {
	s.writes = append(s.writes, doc)
}

func (s *pgSession) Delete(doc Document) {
	s.deletes[doc.DocumentKey()] = true
}

func (s *pgSession) DeleteKey(key string) {
	s.deletes[key] = true
}

func (s *pgSession) SaveChanges(ctx context.Context) error {
	var order []string
	byKey := make(map[string]Document)
	for _, doc := range s.writes {
		key := doc.DocumentKey()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = doc
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, key := range order {
		doc := byKey[key]
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", key, err)
		}

		if seen := s.loaded[key]; seen > 0 {
			tag, err := tx.Exec(ctx,
				`UPDATE membership_document SET data = $1, version = version + 1
				 WHERE key = $2 AND version = $3`,
				data, key, seen)
			if err != nil {
				return fmt.Errorf("failed to update document %s: %w", key, err)
			}
			if tag.RowsAffected() == 0 {
				return &ConcurrencyError{Key: key}
			}
			s.loaded[key] = seen + 1
			continue
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO membership_document (key, collection, data, version)
			 VALUES ($1, $2, $3, 1)`,
			key, doc.DocumentCollection(), data)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
				return &ConcurrencyError{Key: key}
			}
			return fmt.Errorf("failed to insert document %s: %w", key, err)
		}
		s.loaded[key] = 1
	}

	for key := range s.deletes {
		if seen, ok := s.loaded[key]; ok && seen > 0 {
			tag, err := tx.Exec(ctx,
				`DELETE FROM membership_document WHERE key = $1 AND version = $2`, key, seen)
			if err != nil {
				return fmt.Errorf("failed to delete document %s: %w", key, err)
			}
			if tag.RowsAffected() == 0 {
				return &ConcurrencyError{Key: key}
			}
		} else {
			if _, err := tx.Exec(ctx,
				`DELETE FROM membership_document WHERE key = $1`, key); err != nil {
				return fmt.Errorf("failed to delete document %s: %w", key, err)
			}
		}
		s.loaded[key] = 0
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.writes = nil
	s.deletes = make(map[string]bool)
	return nil
}

func (s *pgSession) runQuery(ctx context.Context, q *Query) (Result, error) {
	var where strings.Builder
	where.WriteString(`WHERE collection = $1`)
	args := []any{q.collection}

	// Filter fields come from code constants, never from request input, so
	// interpolating the field name into the jsonb path is safe.
	for _, f := range q.filters {
		args = append(args, f.value)
		n := len(args)
		switch f.kind {
		case filterEq:
			fmt.Fprintf(&where, ` AND data->>'%s' = $%d`, f.field, n)
		case filterContains:
			fmt.Fprintf(&where, ` AND strpos(data->>'%s', $%d) > 0`, f.field, n)
		case filterAnyEq:
			fmt.Fprintf(&where, ` AND data->'%s' ? $%d`, f.field, n)
		}
	}

	// Count and page run on one repeatable-read snapshot so Total always
	// agrees with the page under concurrent writes.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to begin query transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var result Result
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM membership_document `+where.String(), args...).
		Scan(&result.Total)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count collection %s: %w", q.collection, err)
	}

	var page strings.Builder
	page.WriteString(`SELECT data FROM membership_document `)
	page.WriteString(where.String())
	page.WriteString(` ORDER BY key`)
	if q.skip > 0 {
		args = append(args, q.skip)
		fmt.Fprintf(&page, ` OFFSET $%d`, len(args))
	}
	if q.take >= 0 {
		args = append(args, q.take)
		fmt.Fprintf(&page, ` LIMIT $%d`, len(args))
	}

	rows, err := tx.Query(ctx, page.String(), args...)
	if err != nil {
		return Result{}, fmt.Errorf("failed to query collection %s: %w", q.collection, err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return Result{}, fmt.Errorf("failed to scan document: %w", err)
		}
		result.Docs = append(result.Docs, data)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to query collection %s: %w", q.collection, err)
	}
	rows.Close()
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to commit query transaction: %w", err)
	}
	return result, nil
}
