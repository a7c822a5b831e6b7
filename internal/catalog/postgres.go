package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads the catalog from a `books` table. Columns are nullable;
// NULLs resolve to the same defaults as absent keys in a file source.
type PostgresSource struct {
	pool  *pgxpool.Pool
	table string
}

const defaultBooksTable = "books"

func NewPostgresSource(ctx context.Context, databaseURL string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresSource{pool: pool, table: defaultBooksTable}, nil
}

func (s *PostgresSource) Name() string { return "postgres:" + s.table }

// InitSchema creates the books table when it does not exist yet.
func (s *PostgresSource) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
			id BIGSERIAL PRIMARY KEY,
			position INTEGER NOT NULL DEFAULT 0,
			title TEXT,
			author TEXT,
			category TEXT,
			summary TEXT,
			language TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_books_position ON books (position, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresSource) Fetch(ctx context.Context) ([]BookRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT title, author, category, summary, language FROM `+s.table+` ORDER BY position, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query books: %w", ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var out []BookRecord
	for rows.Next() {
		var r rawRecord
		if err := rows.Scan(&r.Title, &r.Author, &r.Category, &r.Summary, &r.Language); err != nil {
			return nil, fmt.Errorf("%w: scan book row: %v", ErrCatalogCorrupt, err)
		}
		out = append(out, r.normalize())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate book rows: %w", ErrCatalogUnavailable, err)
	}
	return out, nil
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
