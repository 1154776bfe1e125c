package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCacheEntry returns nil, nil on a miss.
func (s *SQLiteStore) GetCacheEntry(ctx context.Context, fingerprint string) (*CacheEntry, error) {
	var e CacheEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, kind, payload, tag, explanation, markup, created_at
		FROM code_cache WHERE fingerprint = ?`, fingerprint,
	).Scan(&e.Fingerprint, &e.Kind, &e.Payload, &e.Tag, &e.Explanation, &e.Markup, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query cache entry: %w", err)
	}
	return &e, nil
}

// SaveCacheEntry stores a generation result. Entries are immutable: when the
// fingerprint already exists the first stored result wins and this is a no-op.
func (s *SQLiteStore) SaveCacheEntry(ctx context.Context, e *CacheEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO code_cache (fingerprint, kind, payload, tag, explanation, markup, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING`,
		e.Fingerprint, e.Kind, e.Payload, e.Tag, e.Explanation, e.Markup, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// PruneCache deletes entries created before cutoff and reports how many went.
func (s *SQLiteStore) PruneCache(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM code_cache WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return res.RowsAffected()
}
