package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "snooze/pkg/logx"
)

func newTestShard(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	s := New(cfg, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		s.Stop(context.Background())
		cancel()
	})
	return s
}

func waitDelivery(t *testing.T, ch <-chan Delivery, timeout time.Duration) Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(timeout):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func TestRegisterNeverFiresEarly(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	const delay = 60 * time.Millisecond
	ch := make(chan Delivery, 1)
	start := time.Now()
	id, err := s.Register(context.Background(), RegisterRequest{
		Delay:    delay,
		Callback: func() any { return "v" },
		Mode:     DeliverTo(ChanRecipient(ch)),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == "" {
		t.Fatal("empty allocated id")
	}

	d := waitDelivery(t, ch, time.Second)
	if got := time.Since(start); got < delay {
		t.Fatalf("fired after %v, before the %v delay", got, delay)
	}
	if d.Value != "v" || d.ID != id {
		t.Fatalf("unexpected delivery: %+v", d)
	}
}

func TestFiringOrderAcrossDelays(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	delays := []time.Duration{
		400 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		100 * time.Millisecond,
		300 * time.Millisecond,
		600 * time.Millisecond,
	}
	ch := make(chan Delivery, len(delays))
	start := time.Now()
	for _, d := range delays {
		d := d
		_, err := s.Register(context.Background(), RegisterRequest{
			Delay:    d,
			Callback: func() any { return d },
			Mode:     DeliverTo(ChanRecipient(ch)),
		})
		if err != nil {
			t.Fatalf("register %v: %v", d, err)
		}
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		600 * time.Millisecond,
	}
	for i, nominal := range want {
		d := waitDelivery(t, ch, 2*time.Second)
		got, ok := d.Value.(time.Duration)
		if !ok || got != nominal {
			t.Fatalf("receipt %d = %v, want %v", i, d.Value, nominal)
		}
		elapsed := time.Since(start)
		if elapsed < nominal {
			t.Fatalf("task %v fired early at %v", nominal, elapsed)
		}
		if elapsed > nominal+150*time.Millisecond {
			t.Fatalf("task %v fired late at %v", nominal, elapsed)
		}
	}
}

func TestDuplicateIDKeepsOriginal(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	ch := make(chan Delivery, 2)
	start := time.Now()
	const delay = 80 * time.Millisecond
	if _, err := s.Register(context.Background(), RegisterRequest{
		ID:       "x",
		Delay:    delay,
		Callback: func() any { return "original" },
		Mode:     DeliverTo(ChanRecipient(ch)),
	}); err != nil {
		t.Fatalf("first register: %v", err)
	}

	_, err := s.Register(context.Background(), RegisterRequest{
		ID:       "x",
		Delay:    time.Millisecond,
		Callback: func() any { return "usurper" },
		Mode:     DeliverTo(ChanRecipient(ch)),
	})
	var dup DuplicateIDError
	if !errors.As(err, &dup) || dup.ID != "x" {
		t.Fatalf("second register error = %v, want DuplicateIDError{x}", err)
	}

	// The first registration still fires on schedule, with its own callback.
	d := waitDelivery(t, ch, time.Second)
	if d.Value != "original" {
		t.Fatalf("delivered %v, want original", d.Value)
	}
	if got := time.Since(start); got < delay {
		t.Fatalf("fired early: %v", got)
	}
	select {
	case d := <-ch:
		t.Fatalf("unexpected second delivery: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelHandsBackCallback(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	var ran atomic.Int32
	id, err := s.Register(context.Background(), RegisterRequest{
		Delay:    time.Hour,
		Callback: func() any { ran.Add(1); return 42 },
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := s.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Ran {
		t.Fatal("cancel without run mode should not dispatch")
	}
	if res.Callback == nil {
		t.Fatal("cancel result missing callback")
	}
	if ran.Load() != 0 {
		t.Fatal("callback ran during cancel")
	}
	if v := res.Callback(); v != 42 {
		t.Fatalf("returned callback produced %v", v)
	}

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Pending != 0 {
		t.Fatalf("pending = %d after cancel", snap.Pending)
	}
	if snap.TimerArmed {
		t.Fatal("timer still armed with empty store")
	}
}

func TestCancelAbsentAndAlreadyFired(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	_, err := s.Cancel(context.Background(), "never")
	var nf NotFoundError
	if !errors.As(err, &nf) || nf.ID != "never" {
		t.Fatalf("cancel absent = %v, want NotFoundError{never}", err)
	}

	ch := make(chan Delivery, 1)
	id, err := s.Register(context.Background(), RegisterRequest{
		Delay:    time.Millisecond,
		Callback: func() any { return nil },
		Mode:     DeliverTo(ChanRecipient(ch)),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	waitDelivery(t, ch, time.Second)

	if _, err := s.Cancel(context.Background(), id); !errors.As(err, &nf) {
		t.Fatalf("cancel after fire = %v, want NotFoundError", err)
	}
}

func TestCancelAndRunInlineExactlyOnce(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	var ran atomic.Int32
	id, err := s.Register(context.Background(), RegisterRequest{
		Delay:    50 * time.Millisecond,
		Callback: func() any { return ran.Add(1) },
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := s.CancelAndRun(context.Background(), id, UnsafeInline())
	if err != nil {
		t.Fatalf("cancel-and-run: %v", err)
	}
	if !res.Ran {
		t.Fatal("result not marked as ran")
	}
	if res.Value != int32(1) {
		t.Fatalf("inline value = %v, want 1", res.Value)
	}

	// The original timer path must not fire it a second time.
	time.Sleep(120 * time.Millisecond)
	if n := ran.Load(); n != 1 {
		t.Fatalf("callback ran %d times, want 1", n)
	}
}

func TestCancelAndRunAsync(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	done := make(chan struct{})
	id, err := s.Register(context.Background(), RegisterRequest{
		Delay:    time.Hour,
		Callback: func() any { close(done); return nil },
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := s.CancelAndRun(context.Background(), id, Async())
	if err != nil {
		t.Fatalf("cancel-and-run: %v", err)
	}
	if !res.Ran || res.Value != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async cancel-and-run never executed the callback")
	}
}

func TestChangeSwapsCallback(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	ch := make(chan Delivery, 1)
	id, err := s.Register(context.Background(), RegisterRequest{
		Delay:    100 * time.Millisecond,
		Callback: func() any { return "old" },
		Mode:     DeliverTo(ChanRecipient(ch)),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := s.Change(context.Background(), id, ChangeRequest{
		Callback: Set(Callback(func() any { return "new" })),
	})
	if err != nil {
		t.Fatalf("change: %v", err)
	}
	if got != id {
		t.Fatalf("change returned id %s, want %s", got, id)
	}

	d := waitDelivery(t, ch, time.Second)
	if d.Value != "new" {
		t.Fatalf("fired %v, want new", d.Value)
	}
}

func TestChangeDelayReschedules(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	ch := make(chan Delivery, 1)
	id, err := s.Register(context.Background(), RegisterRequest{
		Delay:    40 * time.Millisecond,
		Callback: func() any { return nil },
		Mode:     DeliverTo(ChanRecipient(ch)),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	const newDelay = 200 * time.Millisecond
	changed := time.Now()
	if _, err := s.Change(context.Background(), id, ChangeRequest{
		Delay: Set(newDelay),
	}); err != nil {
		t.Fatalf("change: %v", err)
	}

	waitDelivery(t, ch, time.Second)
	if got := time.Since(changed); got < newDelay {
		t.Fatalf("fired %v after change, before the new %v delay", got, newDelay)
	}
}

func TestChangeAbsentWithoutRecreate(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	_, err := s.Change(context.Background(), "ghost", ChangeRequest{
		Callback: Set(Callback(func() any { return nil })),
	})
	var nf NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("change absent = %v, want NotFoundError", err)
	}
}

func TestChangeRecreate(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	ch := make(chan Delivery, 2)
	id, err := s.Register(context.Background(), RegisterRequest{
		Delay:    time.Millisecond,
		Callback: func() any { return "first" },
		Mode:     DeliverTo(ChanRecipient(ch)),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	waitDelivery(t, ch, time.Second)

	// Recreate under the old id; deadline is measured from the change call.
	const delay = 80 * time.Millisecond
	changed := time.Now()
	got, err := s.Change(context.Background(), id, ChangeRequest{
		Callback: Set(Callback(func() any { return "second" })),
		Delay:    Set(delay),
		Mode:     KeepOr(DeliverTo(ChanRecipient(ch))),
		Recreate: true,
	})
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if got != id {
		t.Fatalf("recreate returned %s, want %s", got, id)
	}

	d := waitDelivery(t, ch, time.Second)
	if d.Value != "second" {
		t.Fatalf("recreated task fired %v", d.Value)
	}
	if gotDelay := time.Since(changed); gotDelay < delay {
		t.Fatalf("recreated task fired %v after change, before the %v delay", gotDelay, delay)
	}
}

func TestChangeRecreateMissingField(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	_, err := s.Change(context.Background(), "gone", ChangeRequest{
		Callback: Set(Callback(func() any { return nil })),
		Recreate: true,
	})
	var mf MissingFieldError
	if !errors.As(err, &mf) {
		t.Fatalf("recreate without delay = %v, want MissingFieldError", err)
	}
	if mf.Field != "delay" {
		t.Fatalf("missing field = %s, want delay", mf.Field)
	}
}

func TestZeroDelayStillDispatchesAsync(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	// The callback blocks until released. If a zero delay ran inline within
	// Register, this call would deadlock.
	release := make(chan struct{})
	done := make(chan struct{})
	_, err := s.Register(context.Background(), RegisterRequest{
		Delay: 0,
		Callback: func() any {
			<-release
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-delay task never fired")
	}
}

func TestAsyncPanicDoesNotStallShard(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	ch := make(chan Delivery, 1)
	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay:    10 * time.Millisecond,
		Callback: func() any { panic("boom") },
	}); err != nil {
		t.Fatalf("register panicking task: %v", err)
	}
	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay:    40 * time.Millisecond,
		Callback: func() any { return "alive" },
		Mode:     DeliverTo(ChanRecipient(ch)),
	}); err != nil {
		t.Fatalf("register follow-up: %v", err)
	}

	d := waitDelivery(t, ch, time.Second)
	if d.Value != "alive" {
		t.Fatalf("delivered %v", d.Value)
	}

	// The failure is visible in diagnostics, and the shard keeps answering.
	deadline := time.Now().Add(time.Second)
	for {
		snap, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.Failed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed counter = %d, want 1", snap.Failed)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeliverPanicDeliversNothing(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	ch := make(chan Delivery, 1)
	ok := make(chan Delivery, 1)
	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay:    10 * time.Millisecond,
		Callback: func() any { panic("no value for you") },
		Mode:     DeliverTo(ChanRecipient(ch)),
	}); err != nil {
		t.Fatalf("register panicking task: %v", err)
	}
	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay:    40 * time.Millisecond,
		Callback: func() any { return "fine" },
		Mode:     DeliverTo(ChanRecipient(ok)),
	}); err != nil {
		t.Fatalf("register follow-up: %v", err)
	}

	// Once the later task has delivered, the panicking one has long since
	// finished; its recipient must have received nothing.
	waitDelivery(t, ok, time.Second)
	select {
	case d := <-ch:
		t.Fatalf("panicking task delivered %+v", d)
	default:
	}

	deadline := time.Now().Add(time.Second)
	for {
		snap, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.Failed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed counter = %d, want 1", snap.Failed)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInlinePanicTerminatesOnlyThatShard(t *testing.T) {
	t.Parallel()
	crashing := newTestShard(t, Config{Name: "crashing", CallTimeout: 500 * time.Millisecond})
	healthy := newTestShard(t, Config{Name: "healthy"})

	if _, err := crashing.Register(context.Background(), RegisterRequest{
		Delay:    5 * time.Millisecond,
		Callback: func() any { panic("inline boom") },
		Mode:     UnsafeInline(),
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// The crashing shard terminates; requests start failing with ErrStopped.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := crashing.Snapshot(context.Background())
		if errors.Is(err, ErrStopped) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("shard still alive after inline panic (err=%v)", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The sibling shard is untouched.
	if _, err := healthy.Register(context.Background(), RegisterRequest{
		Delay:    time.Millisecond,
		Callback: func() any { return nil },
	}); err != nil {
		t.Fatalf("healthy shard register: %v", err)
	}
}

func TestInlineModeBlocksShard(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	release := make(chan struct{})
	blocked := make(chan struct{})
	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay: 0,
		Callback: func() any {
			close(blocked)
			<-release
			return nil
		},
		Mode: UnsafeInline(),
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	<-blocked

	// While the inline callback runs, every other call on the shard stalls
	// until its per-call timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Register(ctx, RegisterRequest{Delay: time.Second, Callback: func() any { return nil }})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("register during inline run = %v, want DeadlineExceeded", err)
	}

	close(release)
	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay:    time.Second,
		Callback: func() any { return nil },
	}); err != nil {
		t.Fatalf("register after release: %v", err)
	}
}

func TestRegisterNoReply(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	done := make(chan struct{})
	if err := s.RegisterNoReply(context.Background(), RegisterRequest{
		Delay:    10 * time.Millisecond,
		Callback: func() any { close(done); return nil },
	}); err != nil {
		t.Fatalf("no-reply register: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no-reply task never fired")
	}
}

func TestStopDiscardsPending(t *testing.T) {
	t.Parallel()
	s := New(Config{Name: "stopping"}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var ran atomic.Int32
	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay:    50 * time.Millisecond,
		Callback: func() any { return ran.Add(1) },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Stop(context.Background())

	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay:    time.Millisecond,
		Callback: func() any { return nil },
	}); !errors.Is(err, ErrStopped) {
		t.Fatalf("register after stop = %v, want ErrStopped", err)
	}

	time.Sleep(100 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatal("pending task fired after stop")
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{})

	if _, err := s.Register(context.Background(), RegisterRequest{Delay: time.Second}); err == nil {
		t.Fatal("expected error for nil callback")
	}
	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay:    -time.Second,
		Callback: func() any { return nil },
	}); err == nil {
		t.Fatal("expected error for negative delay")
	}

	// Change validates the same values, whether they arrive via Set or as a
	// KeepOr fallback that recreate would adopt.
	if _, err := s.Change(context.Background(), "id", ChangeRequest{
		Delay: Set(-time.Second),
	}); err == nil {
		t.Fatal("expected error for Set negative delay")
	}
	if _, err := s.Change(context.Background(), "id", ChangeRequest{
		Callback: Set(Callback(func() any { return nil })),
		Delay:    KeepOr(-time.Second),
		Mode:     KeepOr(Async()),
		Recreate: true,
	}); err == nil {
		t.Fatal("expected error for KeepOr negative delay")
	}
	if _, err := s.Change(context.Background(), "id", ChangeRequest{
		Callback: Set(Callback(nil)),
	}); err == nil {
		t.Fatal("expected error for Set nil callback")
	}
}

func TestShardDefaultModeInline(t *testing.T) {
	t.Parallel()
	s := newTestShard(t, Config{DefaultMode: UnsafeInline()})

	// With an inline default, a register without an explicit mode runs the
	// callback on the shard goroutine when due.
	done := make(chan struct{})
	if _, err := s.Register(context.Background(), RegisterRequest{
		Delay:    time.Millisecond,
		Callback: func() any { close(done); return nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never fired")
	}
}
