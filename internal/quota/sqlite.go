package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteCounter keeps counts in the diagram_counts table of the main database.
type SQLiteCounter struct {
	db *sql.DB
}

func NewSQLiteCounter(db *sql.DB) *SQLiteCounter {
	return &SQLiteCounter{db: db}
}

func (c *SQLiteCounter) Count(ctx context.Context, day string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT count FROM diagram_counts WHERE day = ?", day).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read daily count: %w", err)
	}
	return count, nil
}

func (c *SQLiteCounter) IncrementIfBelow(ctx context.Context, day string, limit int) (int, bool, error) {
	if limit <= 0 {
		count, err := c.Count(ctx, day)
		return count, false, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO diagram_counts (day, count) VALUES (?, 1)
		ON CONFLICT (day) DO UPDATE SET count = count + 1 WHERE count < ?`, day, limit)
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment daily count: %w", err)
	}
	affected, _ := res.RowsAffected()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT count FROM diagram_counts WHERE day = ?", day).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("failed to read daily count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return count, affected > 0, nil
}
