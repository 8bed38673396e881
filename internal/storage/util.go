package storage

import (
	"time"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// timeFormat is how SQLite stores timestamps. Fixed width keeps text order
// equal to time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// runStatus derives the final status of a run from its counts
func runStatus(r *Run) string {
	if r.Failed > 0 || r.Passed < r.Total {
		return RunFailed
	}
	return RunPassed
}
