package sched

import (
	"runtime/debug"
	"time"

	logx "snooze/pkg/logx"
)

// dispatchAsync runs t's callback on its own goroutine. A panic is confined
// to that goroutine: it is logged (rate limited, so a hot failing callback
// cannot flood the log) and published as a task.failed event, and for
// DeliverTo tasks nothing is delivered. The shard never waits for the
// goroutine.
func (s *Scheduler) dispatchAsync(t *task) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.failed.Add(1)
				if s.panicLog.Allow() {
					s.log.Error("task.panic",
						logx.String("id", string(t.id)),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
				}
				s.publish(EventFailed, TaskEvent{
					Shard: s.cfg.Name, ID: string(t.id), Mode: t.mode.String(),
					Error: panicString(r),
				})
			}
		}()

		v := t.callback()
		if t.mode.kind == modeDeliver && t.mode.to != nil {
			t.mode.to.Deliver(Delivery{
				Shard: s.cfg.Name,
				ID:    t.id,
				Value: v,
				At:    time.Now(),
			})
		}
	}()
}

// runInline executes t's callback on the shard goroutine. No recovery here:
// a panic unwinds through run() and terminates the shard, which is the
// documented contract of UnsafeInline.
func (s *Scheduler) runInline(t *task) any {
	return t.callback()
}

func panicString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "panic"
}
