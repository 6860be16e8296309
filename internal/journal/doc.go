// Package journal records task lifecycle history (scheduled, fired,
// cancelled, changed, failed) for operator inspection.
//
// It is an observer, not a durability layer: pending tasks are never written
// and a process restart still loses everything that had not fired. The
// journal consumes events from the bus on its own worker goroutine, so the
// shards never block on it.
//
// Drivers:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (optional build tag)
//
// Retention is enforced on a cron schedule (e.g. "@daily").
package journal
