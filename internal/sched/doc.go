// Package sched implements snooze's delayed one-shot task scheduler.
//
// # Overview
//
// A Scheduler is one independent shard: it owns a deadline-ordered store of
// pending tasks and a single wake-up timer, and processes every request
// (register / cancel / change / timer fire) one at a time on its own
// goroutine. Because only that goroutine ever touches shard state, the store
// and timer need no locking. Multiple shards can coexist in one process with
// zero shared state; see the registry package for naming and routing.
//
// A task is a zero-argument callback plus an absolute deadline. Deadlines are
// computed from the monotonic clock at registration time, so wall-clock
// adjustments never reorder or misfire tasks. Firing never happens before the
// deadline; under load it may happen later (no hard upper bound).
//
// # Execution modes
//
// Due (or cancel-and-run) callbacks execute under one of three modes:
//
//   - Async(): an isolated goroutine; the return value is discarded and a
//     panic inside the callback is confined to that goroutine.
//   - DeliverTo(r): an isolated goroutine; on success the return value is
//     delivered to r, on panic nothing is delivered.
//   - UnsafeInline(): runs synchronously on the shard's own goroutine. This
//     blocks every other operation on the shard until the callback returns,
//     and a panic propagates into the shard and terminates it. It exists for
//     trusted internal callbacks only; the deliberately awkward name is the
//     point.
//
// # Ids
//
// Task ids are unique among the shard's currently pending tasks only. Once a
// task fires or is cancelled its id is free for reuse (including recreation
// via Change).
//
// # Durability
//
// None. Stopping a shard, or terminating it via an inline panic, discards all
// pending tasks.
package sched
