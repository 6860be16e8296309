package sched

import (
	"context"
	"errors"
)

// The methods below are the shard's client surface. Every one of them feeds a
// request through the serialized inbox; request/reply calls wait for the
// shard's answer under the context deadline (or the configured CallTimeout
// when the context carries none), fire-and-forget calls return as soon as the
// request is queued.

// Register schedules cb to run after delay and returns the task id.
func (s *Scheduler) Register(ctx context.Context, reg RegisterRequest) (TaskID, error) {
	if err := validateRegister(reg); err != nil {
		return "", err
	}
	resp, err := s.call(ctx, request{kind: reqRegister, reg: reg})
	if err != nil {
		return "", err
	}
	return resp.id, nil
}

// RegisterNoReply is Register without a reply: the caller learns nothing
// about the outcome (a duplicate id is only logged). The request is still
// applied in arrival order like any other.
func (s *Scheduler) RegisterNoReply(ctx context.Context, reg RegisterRequest) error {
	if err := validateRegister(reg); err != nil {
		return err
	}
	return s.post(ctx, request{kind: reqRegister, reg: reg})
}

// Cancel removes the pending task with the given id without running it. The
// result carries the original, un-invoked callback. A task removed here can
// never subsequently fire.
func (s *Scheduler) Cancel(ctx context.Context, id TaskID) (CancelResult, error) {
	resp, err := s.call(ctx, request{kind: reqCancel, id: id})
	if err != nil {
		return CancelResult{}, err
	}
	return resp.cancel, nil
}

// CancelAndRun removes the pending task and dispatches its callback under
// mode. For UnsafeInline the result's Value holds the callback's return
// value; for the async modes the result only acknowledges that the dispatch
// started.
func (s *Scheduler) CancelAndRun(ctx context.Context, id TaskID, mode Mode) (CancelResult, error) {
	if mode.IsZero() {
		mode = Async()
	}
	resp, err := s.call(ctx, request{kind: reqCancel, id: id, run: &mode})
	if err != nil {
		return CancelResult{}, err
	}
	return resp.cancel, nil
}

// Change mutates the pending task with the given id, or recreates it when
// ch.Recreate is set and no pending task exists.
func (s *Scheduler) Change(ctx context.Context, id TaskID, ch ChangeRequest) (TaskID, error) {
	if err := validateChange(ch); err != nil {
		return "", err
	}
	resp, err := s.call(ctx, request{kind: reqChange, id: id, change: ch})
	if err != nil {
		return "", err
	}
	return resp.id, nil
}

// Snapshot returns a diagnostics view of the shard, serialized with the
// request stream like everything else.
func (s *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	resp, err := s.call(ctx, request{kind: reqSnapshot})
	if err != nil {
		return Snapshot{}, err
	}
	return resp.snap, nil
}

func validateRegister(reg RegisterRequest) error {
	if reg.Callback == nil {
		return errors.New("sched: nil callback")
	}
	if reg.Delay < 0 {
		return errors.New("sched: negative delay")
	}
	return nil
}

// validateChange mirrors validateRegister for the values a change can carry.
// Both Set and KeepOr payloads are checked: a KeepOr fallback becomes the
// task's value under Recreate.
func validateChange(ch ChangeRequest) error {
	if ch.Callback.state != optUnset && ch.Callback.v == nil {
		return errors.New("sched: nil callback")
	}
	if ch.Delay.state != optUnset && ch.Delay.v < 0 {
		return errors.New("sched: negative delay")
	}
	return nil
}

func (s *Scheduler) call(ctx context.Context, req request) (response, error) {
	ctx, cancel := s.withCallTimeout(ctx)
	defer cancel()

	req.reply = make(chan response, 1)
	select {
	case s.inbox <- req:
	case <-s.doneCh:
		return response{}, ErrStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-s.doneCh:
		return response{}, ErrStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (s *Scheduler) post(ctx context.Context, req request) error {
	select {
	case s.inbox <- req:
		return nil
	case <-s.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}
