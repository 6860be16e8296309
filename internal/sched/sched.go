package sched

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"snooze/internal/eventbus"
	logx "snooze/pkg/logx"
)

type reqKind int

const (
	reqRegister reqKind = iota
	reqCancel
	reqChange
	reqTimerFired
	reqSnapshot
)

// request is one unit of work for the shard goroutine. A nil reply channel
// makes the request fire-and-forget; the state transition is identical either
// way.
type request struct {
	kind   reqKind
	reg    RegisterRequest
	id     TaskID
	run    *Mode // cancel: when set, dispatch the callback under this mode
	change ChangeRequest
	gen    uint64 // timer fire generation token

	reply chan response
}

type response struct {
	id     TaskID
	cancel CancelResult
	snap   Snapshot
	err    error
}

// Scheduler is one shard: a sequential actor owning a task store and a single
// wake-up timer. All state below the "shard goroutine only" marker is touched
// exclusively by run().
type Scheduler struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	inbox    chan request
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// panicLog throttles logging of repeatedly panicking callbacks.
	panicLog *rate.Limiter

	// ---- shard goroutine only ----
	store *taskStore
	ids   idAllocator

	timer    *time.Timer
	timerGen uint64
	armed    bool
	armedFor time.Time

	fired     uint64
	cancelled uint64

	// failed is bumped from dispatch goroutines, hence atomic.
	failed atomic.Uint64
}

// New builds a shard. Call Start to begin processing.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:      cfg,
		log:      log.With(logx.String("shard", cfg.Name)),
		bus:      bus,
		inbox:    make(chan request, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		panicLog: rate.NewLimiter(rate.Every(time.Second), 5),
		store:    newTaskStore(),
		ids:      idAllocator{prefix: cfg.IDPrefix},
	}
}

// Name returns the shard's configured name.
func (s *Scheduler) Name() string { return s.cfg.Name }

// Start launches the shard goroutine. ctx cancellation stops the shard the
// same way Stop does.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop terminates the shard, discarding all pending tasks. Dispatches already
// handed to async goroutines keep running. Stop waits for the shard goroutine
// to exit or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.doneCh:
	case <-ctx.Done():
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		// An UnsafeInline callback panicked. The shard terminates; other
		// shards and already-dispatched goroutines are unaffected.
		if r := recover(); r != nil {
			s.log.Error("shard terminated by inline callback panic",
				logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			s.stopOnce.Do(func() { close(s.stopCh) })
		}
		s.shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case req := <-s.inbox:
			s.handle(req)
		}
	}
}

func (s *Scheduler) shutdown() {
	s.disarm()
	if n := s.store.len(); n > 0 {
		s.log.Info("dropping pending tasks on stop", logx.Int("pending", n))
	}
	s.store = newTaskStore()
}

func (s *Scheduler) handle(req request) {
	switch req.kind {
	case reqRegister:
		id, err := s.handleRegister(req.reg)
		if req.reply == nil {
			if err != nil {
				s.log.Warn("fire-and-forget register failed", logx.Err(err))
			}
			return
		}
		req.reply <- response{id: id, err: err}
	case reqCancel:
		res, err := s.handleCancel(req.id, req.run)
		if req.reply != nil {
			req.reply <- response{id: req.id, cancel: res, err: err}
		}
	case reqChange:
		id, err := s.handleChange(req.id, req.change)
		if req.reply != nil {
			req.reply <- response{id: id, err: err}
		}
	case reqTimerFired:
		s.handleTimerFired(req.gen)
	case reqSnapshot:
		if req.reply != nil {
			req.reply <- response{snap: s.buildSnapshot()}
		}
	}
}

func (s *Scheduler) handleRegister(reg RegisterRequest) (TaskID, error) {
	now := time.Now()

	id := reg.ID
	if id == "" {
		id = s.ids.next(s.store.has)
	}
	mode := reg.Mode
	if mode.IsZero() {
		mode = s.cfg.DefaultMode
	}
	if mode.IsZero() {
		mode = Async()
	}

	t := &task{
		id:       id,
		deadline: now.Add(reg.Delay),
		callback: reg.Callback,
		mode:     mode,
	}
	if err := s.store.insert(t); err != nil {
		return "", err
	}

	s.publish(EventScheduled, TaskEvent{
		Shard: s.cfg.Name, ID: string(id), Mode: mode.String(),
		Delay: reg.Delay, Deadline: t.deadline,
	})
	s.rearm(now)
	return id, nil
}

func (s *Scheduler) handleCancel(id TaskID, run *Mode) (CancelResult, error) {
	t, ok := s.store.removeByID(id)
	if !ok {
		return CancelResult{}, NotFoundError{ID: id}
	}
	s.cancelled++
	s.publish(EventCancelled, TaskEvent{Shard: s.cfg.Name, ID: string(id), Mode: t.mode.String()})

	res := CancelResult{ID: id}
	if run == nil {
		// Hand the un-invoked callback back to the caller.
		res.Callback = t.callback
	} else {
		t.mode = *run
		res.Ran = true
		if run.IsInline() {
			res.Value = s.runInline(t)
		} else {
			s.dispatchAsync(t)
		}
	}
	s.rearm(time.Now())
	return res, nil
}

func (s *Scheduler) handleChange(id TaskID, ch ChangeRequest) (TaskID, error) {
	now := time.Now()

	if t, ok := s.store.get(id); ok {
		t.callback = ch.Callback.apply(t.callback)
		t.mode = ch.Mode.apply(t.mode)
		if ch.Delay.state == optSet {
			s.store.updateDeadline(t, now.Add(ch.Delay.v))
			s.rearm(now)
		}
		s.publish(EventChanged, TaskEvent{
			Shard: s.cfg.Name, ID: string(id), Mode: t.mode.String(), Deadline: t.deadline,
		})
		return id, nil
	}

	if !ch.Recreate {
		return "", NotFoundError{ID: id}
	}

	// Recreate under the old id: every field must resolve, and the new
	// deadline is measured from this call, not the original registration.
	cb, ok := ch.Callback.resolve()
	if !ok {
		return "", MissingFieldError{Field: "callback"}
	}
	d, ok := ch.Delay.resolve()
	if !ok {
		return "", MissingFieldError{Field: "delay"}
	}
	mode, ok := ch.Mode.resolve()
	if !ok {
		return "", MissingFieldError{Field: "mode"}
	}

	t := &task{id: id, deadline: now.Add(d), callback: cb, mode: mode}
	if err := s.store.insert(t); err != nil {
		return "", err
	}
	s.publish(EventScheduled, TaskEvent{
		Shard: s.cfg.Name, ID: string(id), Mode: mode.String(), Delay: d, Deadline: t.deadline,
	})
	s.rearm(now)
	return id, nil
}

func (s *Scheduler) handleTimerFired(gen uint64) {
	if gen != s.timerGen {
		// Superseded by a later rearm/disarm; drop the stale fire.
		return
	}
	s.armed = false

	now := time.Now()
	due := s.store.popDue(now)
	for _, t := range due {
		s.fired++
		s.publish(EventFired, TaskEvent{
			Shard: s.cfg.Name, ID: string(t.id), Mode: t.mode.String(), Deadline: t.deadline,
		})
		if t.mode.IsInline() {
			// Runs on the shard goroutine; a panic here unwinds through run()
			// and terminates the shard.
			_ = t.callback()
		} else {
			s.dispatchAsync(t)
		}
	}
	s.rearm(now)
}

// ---- timer controller ----

// rearm keeps exactly one wake-up armed for the store's minimum deadline.
// Every mutation that can move the minimum calls it; the generation token
// invalidates fires from any previously armed timer.
func (s *Scheduler) rearm(now time.Time) {
	earliest, ok := s.store.peekEarliest()
	if !ok {
		s.disarm()
		return
	}
	if s.armed && earliest.Equal(s.armedFor) {
		return
	}
	s.disarm()

	s.timerGen++
	gen := s.timerGen
	d := earliest.Sub(now)
	if d < 0 {
		d = 0
	}
	s.armed = true
	s.armedFor = earliest
	s.timer = time.AfterFunc(d, func() { s.postFire(gen) })
}

func (s *Scheduler) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
	s.timerGen++
}

// postFire runs on the timer goroutine and feeds the fire through the inbox
// so it is serialized with every other request.
func (s *Scheduler) postFire(gen uint64) {
	select {
	case s.inbox <- request{kind: reqTimerFired, gen: gen}:
	case <-s.doneCh:
	}
}

func (s *Scheduler) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}
