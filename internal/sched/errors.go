package sched

import (
	"errors"
	"fmt"
)

// ErrStopped is returned for requests against a shard that has been stopped,
// or that terminated after an UnsafeInline callback panicked.
var ErrStopped = errors.New("sched: shard stopped")

// DuplicateIDError reports a registration whose id collides with a task that
// is still pending. The existing task is left untouched.
type DuplicateIDError struct {
	ID TaskID
}

func (e DuplicateIDError) Error() string {
	return fmt.Sprintf("sched: task id %q already pending", string(e.ID))
}

// NotFoundError reports a cancel or change against an id with no pending
// task. A never-registered id and an already fired or cancelled one are
// indistinguishable.
type NotFoundError struct {
	ID TaskID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("sched: no pending task with id %q", string(e.ID))
}

// MissingFieldError reports a recreate change that could not resolve one of
// callback, delay or mode.
type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("sched: recreate requires a resolvable %s", e.Field)
}
