package journal

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("journal disabled")

// Config configures the journal.
//
// Driver values:
//   - "file": JSON Lines file backend
//   - "sqlite": SQLite database file (requires the sqlite build tag)
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retention drops entries older than this on every prune pass.
	// 0 disables pruning.
	Retention time.Duration

	// PruneSchedule is a cron spec ("@daily", "@every 6h", "0 3 * * *")
	// controlling when retention runs. Empty defaults to "@daily".
	PruneSchedule string
}

// Entry is one recorded lifecycle event. Keep it compact and schema-stable.
type Entry struct {
	At       time.Time `json:"at"`
	Shard    string    `json:"shard"`
	TaskID   string    `json:"task_id"`
	Event    string    `json:"event"`
	Mode     string    `json:"mode,omitempty"`
	Deadline time.Time `json:"deadline,omitempty"`
	Error    string    `json:"error,omitempty"`
}
