package sched

import "time"

// Snapshot is a lightweight diagnostics view of one shard.
type Snapshot struct {
	Name    string
	Pending int

	// NextDeadline is zero when no task is pending.
	NextDeadline time.Time
	TimerArmed   bool
	Generation   uint64

	Fired     uint64
	Cancelled uint64
	Failed    uint64

	QueueLen int
	QueueCap int
}

// buildSnapshot runs on the shard goroutine.
func (s *Scheduler) buildSnapshot() Snapshot {
	snap := Snapshot{
		Name:       s.cfg.Name,
		Pending:    s.store.len(),
		TimerArmed: s.armed,
		Generation: s.timerGen,
		Fired:      s.fired,
		Cancelled:  s.cancelled,
		Failed:     s.failed.Load(),
		QueueLen:   len(s.inbox),
		QueueCap:   cap(s.inbox),
	}
	if dl, ok := s.store.peekEarliest(); ok {
		snap.NextDeadline = dl
	}
	return snap
}
