package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/ports"
)

const (
	seenTable  = "seen_items"
	dateLayout = "2006-01-02"
	// sqliteBatch stays under SQLite's default bound-parameter limit.
	sqliteBatch = 500
)

// Dialect selects SQL flavour differences between backends.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var schema = map[Dialect][]string{
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS seen_items (
			fingerprint     TEXT PRIMARY KEY,
			source          TEXT NOT NULL,
			first_seen_date DATE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_items_first_seen ON seen_items (first_seen_date)`,
	},
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS seen_items (
			fingerprint     TEXT PRIMARY KEY,
			source          TEXT NOT NULL,
			first_seen_date TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_items_first_seen ON seen_items (first_seen_date)`,
	},
}

// SQLStore persists seen fingerprints in Postgres or SQLite. Both dialects
// share the seen_items schema and semantics.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	builder sq.StatementBuilderType
}

var _ ports.SeenStore = (*SQLStore)(nil)

// NewSQLStore wires a sql.DB implementation.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &SQLStore{db: db, dialect: dialect, builder: builder}
}

// Backend names the dialect for logs and stats.
func (s *SQLStore) Backend() string { return string(s.dialect) }

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema[s.dialect] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect, err)
		}
	}
	return nil
}

// Exists reports whether the fingerprint was recorded.
func (s *SQLStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	query, args, err := s.builder.Select("1").From(seenTable).
		Where(sq.Eq{"fingerprint": fingerprint}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query exists: %w", err)
	}
	return true, nil
}

// ExistsMany returns a map with fingerprints that already exist in storage.
func (s *SQLStore) ExistsMany(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(fingerprints) == 0 {
		return result, nil
	}

	if s.dialect == DialectPostgres {
		err := s.collect(ctx, s.builder.Select("fingerprint").From(seenTable).
			Where(sq.Expr("fingerprint = ANY(?)", pq.StringArray(fingerprints))), result)
		return result, err
	}

	for start := 0; start < len(fingerprints); start += sqliteBatch {
		end := min(start+sqliteBatch, len(fingerprints))
		err := s.collect(ctx, s.builder.Select("fingerprint").From(seenTable).
			Where(sq.Eq{"fingerprint": fingerprints[start:end]}), result)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *SQLStore) collect(ctx context.Context, q sq.SelectBuilder, into map[string]bool) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build exists many: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query seen: %w", err)
	}
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan fingerprint: %w", err)
		}
		into[fp] = true
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return fmt.Errorf("close rows: %w", closeErr)
	}
	return nil
}

// Record inserts the fingerprint once; recording it again is a no-op.
func (s *SQLStore) Record(ctx context.Context, rec domain.SeenRecord) (bool, error) {
	date := rec.FirstSeenDate
	if date.IsZero() {
		date = time.Now()
	}
	query, args, err := s.builder.Insert(seenTable).
		Columns("fingerprint", "source", "first_seen_date").
		Values(rec.Fingerprint, rec.Source, date.UTC().Format(dateLayout)).
		Suffix("ON CONFLICT (fingerprint) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Reset deletes every record.
func (s *SQLStore) Reset(ctx context.Context) error {
	query, args, err := s.builder.Delete(seenTable).ToSql()
	if err != nil {
		return fmt.Errorf("build reset: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("reset seen: %w", err)
	}
	return nil
}

// Prune deletes records first seen before the given day.
func (s *SQLStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	query, args, err := s.builder.Delete(seenTable).
		Where(sq.Lt{"first_seen_date": olderThan.UTC().Format(dateLayout)}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune seen: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of records.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	query, args, err := s.builder.Select("COUNT(*)").From(seenTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
