package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"embedding-gateway/internal/embeddings"
)

// PostgresStore reads word vectors from a pgvector table shaped as
// (word TEXT, embedding vector).
type PostgresStore struct {
	db    *sql.DB
	table string
}

func NewPostgres(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	if table == "" {
		return nil, fmt.Errorf("vector table name required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return &PostgresStore{db: db, table: table}, nil
}

// LoadVocabulary reads the whole table into memory.
func (s *PostgresStore) LoadVocabulary(ctx context.Context) (map[string]embeddings.Vector, error) {
	query := fmt.Sprintf(`SELECT word, embedding FROM %s`, quoteTable(s.table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query vocabulary: %w", err)
	}
	defer rows.Close()

	vocab := make(map[string]embeddings.Vector)
	for rows.Next() {
		var (
			word string
			vec  pgvector.Vector
		)
		if err := rows.Scan(&word, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan word vector: %w", err)
		}
		vocab[word] = embeddings.Vector(vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(vocab) == 0 {
		return nil, ErrEmptyVocabulary
	}
	return vocab, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// quoteTable quotes each part of a possibly schema-qualified table name.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
