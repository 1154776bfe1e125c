// Package quota tracks the shared daily generation ceiling.
package quota

import (
	"context"
	"time"
)

const dayLayout = "2006-01-02"

// Counter counts generations served on shared credentials per UTC day.
type Counter interface {
	// Count returns the number of generations recorded for day.
	Count(ctx context.Context, day string) (int, error)
	// IncrementIfBelow atomically adds one to day's count when it is below
	// limit. ok is false, and nothing changes, when the ceiling is reached.
	IncrementIfBelow(ctx context.Context, day string, limit int) (count int, ok bool, err error)
}

// Day returns the UTC calendar date for t.
func Day(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// Today is Day(time.Now()).
func Today() string {
	return Day(time.Now())
}
