package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Cache persists embedding vectors keyed by (model, text) in the
// embeddings table, so tags seen on every page load are embedded once.
type Cache struct {
	db  *sql.DB
	now func() time.Time
}

// NewCache wraps an existing *sql.DB. The embeddings table must already
// exist (created via storage migrations).
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db, now: time.Now}
}

// Get returns the cached vector for text under model. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, model, text string) (vec []float32, ok bool, err error) {
	var blob []byte
	err = c.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE model = ? AND text = ?`, model, text).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached embedding: %w", err)
	}
	vec, err = decodeFloat32s(blob)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached embedding for %q: %w", text, err)
	}
	return vec, true, nil
}

// Put stores vec for text under model, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, model, text string, vec []float32) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO embeddings (model, text, vector, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(model, text) DO UPDATE SET vector = excluded.vector, created_at = excluded.created_at`,
		model, text, encodeFloat32s(vec), c.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("caching embedding: %w", err)
	}
	return nil
}

// Count returns the number of cached vectors for model.
func (c *Cache) Count(ctx context.Context, model string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE model = ?`, model).Scan(&n)
	return n, err
}

// Clear drops every cached vector.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("clearing embedding cache: %w", err)
	}
	return nil
}
