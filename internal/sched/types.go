package sched

import (
	"time"

	"snooze/internal/eventbus"
)

// TaskID identifies a pending task within one shard. Ids are opaque to the
// scheduler; caller-supplied ids are accepted as-is and only checked for
// collision against the current pending set.
type TaskID string

// Callback is the unit of deferred work. Its return value is discarded under
// Async, delivered under DeliverTo, and handed back to the caller under an
// UnsafeInline cancel-and-run.
type Callback func() any

// Delivery carries a callback's return value to a DeliverTo recipient.
type Delivery struct {
	Shard string
	ID    TaskID
	Value any
	At    time.Time
}

// Recipient receives deliveries from DeliverTo tasks. Deliver runs on the
// dispatch goroutine of the task that produced the value; it may block that
// goroutine but never the shard.
type Recipient interface {
	Deliver(d Delivery)
}

// RecipientFunc adapts a function to the Recipient interface.
type RecipientFunc func(d Delivery)

func (f RecipientFunc) Deliver(d Delivery) { f(d) }

// ChanRecipient returns a Recipient that sends each delivery on ch.
// The send blocks the dispatch goroutine until ch accepts it.
func ChanRecipient(ch chan<- Delivery) Recipient {
	return RecipientFunc(func(d Delivery) { ch <- d })
}

// BusRecipient returns a Recipient that publishes each delivery on bus under
// the given event type. Publishing is non-blocking; slow bus subscribers may
// drop deliveries.
func BusRecipient(bus eventbus.Bus, eventType string) Recipient {
	return RecipientFunc(func(d Delivery) {
		bus.Publish(eventbus.Event{Type: eventType, Time: d.At, Data: d})
	})
}

// ---- Execution modes ----

type modeKind int

const (
	modeUnset modeKind = iota // zero value: defer to the shard default
	modeAsync
	modeDeliver
	modeInline
)

// Mode selects how a due or cancel-and-run callback executes. The zero value
// defers to the shard's configured default mode (Async unless configured
// otherwise). Construct values only through Async, DeliverTo and UnsafeInline
// so the unsafe mode can never be picked by accident.
type Mode struct {
	kind modeKind
	to   Recipient
}

// Async runs the callback on an isolated goroutine and discards its return
// value. A panic in the callback is confined to that goroutine.
func Async() Mode { return Mode{kind: modeAsync} }

// DeliverTo runs the callback on an isolated goroutine and, on success,
// delivers the return value to r. On panic nothing is delivered.
func DeliverTo(r Recipient) Mode { return Mode{kind: modeDeliver, to: r} }

// UnsafeInline runs the callback synchronously on the shard goroutine.
//
// This blocks every other operation on the shard until the callback returns,
// and an unrecovered panic terminates the shard, discarding all pending
// tasks. Use only for trusted internal callbacks.
func UnsafeInline() Mode { return Mode{kind: modeInline} }

// IsInline reports whether m is the unsafe synchronous mode.
func (m Mode) IsInline() bool { return m.kind == modeInline }

// IsZero reports whether m is the zero value (no explicit mode chosen).
func (m Mode) IsZero() bool { return m.kind == modeUnset }

func (m Mode) String() string {
	switch m.kind {
	case modeDeliver:
		return "deliver"
	case modeInline:
		return "unsafe_inline"
	default:
		return "async"
	}
}

// ---- Three-state change fields ----

type optState int

const (
	optUnset optState = iota
	optSet
	optKeepOr
)

// Option is a three-state field for ChangeRequest: unset (leave the pending
// task's value alone), Set (replace it), or KeepOr (keep it, falling back to
// the given value when the change recreates the task and there is no previous
// value to keep). The zero value is unset.
type Option[T any] struct {
	state optState
	v     T
}

// Set replaces the field's current value.
func Set[T any](v T) Option[T] { return Option[T]{state: optSet, v: v} }

// KeepOr keeps the field's current value. Under Recreate there is no current
// value, so fallback is used instead.
func KeepOr[T any](fallback T) Option[T] { return Option[T]{state: optKeepOr, v: fallback} }

// apply resolves the option against an existing value.
func (o Option[T]) apply(cur T) T {
	if o.state == optSet {
		return o.v
	}
	return cur
}

// resolve resolves the option when there is no existing value (recreate).
func (o Option[T]) resolve() (T, bool) {
	var zero T
	switch o.state {
	case optSet, optKeepOr:
		return o.v, true
	default:
		return zero, false
	}
}

// ---- Requests ----

// RegisterRequest describes one task registration. Delay must be >= 0;
// a zero delay still fires through the asynchronous dispatch path, never
// inline within the registering call.
type RegisterRequest struct {
	Delay    time.Duration
	Callback Callback

	// ID, when non-empty, is used instead of an allocated id and fails with
	// DuplicateIDError if it is already pending.
	ID TaskID

	// Mode's zero value defers to the shard's default mode.
	Mode Mode
}

// ChangeRequest mutates a pending task in place, or recreates a fired or
// cancelled one under its old id when Recreate is set. Unset fields are left
// unchanged; under Recreate all three fields must resolve (via Set or the
// KeepOr fallback) or the change fails with MissingFieldError.
type ChangeRequest struct {
	Callback Option[Callback]
	// Delay is measured from the time the change call is processed, both for
	// in-place deadline updates and for recreation.
	Delay    Option[time.Duration]
	Mode     Option[Mode]
	Recreate bool
}

// CancelResult reports the outcome of a cancel.
//
// When the cancel did not request a run mode, Callback holds the original,
// un-invoked callback. When it did, Ran is true and Value holds the
// callback's return value for an UnsafeInline run (async runs are
// fire-and-forget; Value stays nil).
type CancelResult struct {
	ID       TaskID
	Callback Callback
	Ran      bool
	Value    any
}

// ---- Config ----

// Config controls one shard.
//
// All fields have usable zero-value defaults so sched.New(Config{}) works in
// tests.
type Config struct {
	// Name labels the shard in logs, events and deliveries.
	Name string

	// QueueSize is the inbound request queue capacity (default 256).
	QueueSize int

	// IDPrefix prefixes allocated task ids (default "t").
	IDPrefix string

	// CallTimeout bounds request/reply calls whose context carries no
	// deadline (default 5s). Fire-and-forget sends are not affected.
	CallTimeout time.Duration

	// DefaultMode applies to registrations that do not set a mode
	// explicitly. The zero value means Async().
	DefaultMode Mode
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "sched"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.IDPrefix == "" {
		c.IDPrefix = "t"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	return c
}

// Event types published on the bus.
const (
	EventScheduled = "task.scheduled"
	EventFired     = "task.fired"
	EventCancelled = "task.cancelled"
	EventChanged   = "task.changed"
	EventFailed    = "task.failed"
)

// TaskEvent is the bus payload for task lifecycle events.
type TaskEvent struct {
	Shard    string        `json:"shard"`
	ID       string        `json:"id"`
	Mode     string        `json:"mode"`
	Delay    time.Duration `json:"delay,omitempty"`
	Deadline time.Time     `json:"deadline,omitempty"`
	Error    string        `json:"error,omitempty"`
}
