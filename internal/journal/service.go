package journal

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"snooze/internal/eventbus"
	"snooze/internal/sched"
	logx "snooze/pkg/logx"
)

// Service tails task lifecycle events off the bus into a Store and enforces
// retention on a cron schedule.
type Service struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	store Store

	mu    sync.Mutex
	c     *cron.Cron
	unsub func()
	wg    sync.WaitGroup
}

// New wires the service; it does nothing until Start. store may be nil
// (journal disabled), in which case Start is a no-op.
func New(cfg Config, store Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, bus: bus, store: store}
}

func (s *Service) Start(ctx context.Context) {
	if s.store == nil || s.bus == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		return
	}

	ch, unsub := s.bus.SubscribeType("task.", 256)
	s.unsub = unsub
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tail(ctx, ch)
	}()

	if s.cfg.Retention > 0 {
		spec := s.cfg.PruneSchedule
		if spec == "" {
			spec = "@daily"
		}
		c := cron.New()
		_, err := c.AddFunc(spec, func() { s.prune(context.Background()) })
		if err != nil {
			s.log.Warn("invalid journal prune schedule; retention disabled",
				logx.String("spec", spec), logx.Err(err))
		} else {
			c.Start()
			s.c = c
		}
	}

	s.log.Info("journal started",
		logx.String("driver", s.cfg.Driver),
		logx.Duration("retention", s.cfg.Retention))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	if unsub != nil {
		unsub()
		s.wg.Wait()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// Recent proxies the store for diagnostics endpoints.
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s.store == nil {
		return nil, ErrDisabled
	}
	return s.store.Recent(ctx, limit)
}

func (s *Service) tail(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			te, ok := ev.Data.(sched.TaskEvent)
			if !ok {
				continue
			}
			e := Entry{
				At:       ev.Time,
				Shard:    te.Shard,
				TaskID:   te.ID,
				Event:    ev.Type,
				Mode:     te.Mode,
				Deadline: te.Deadline,
				Error:    te.Error,
			}
			if err := s.store.Append(ctx, e); err != nil {
				s.log.Warn("journal append failed", logx.Err(err))
			}
		}
	}
}

func (s *Service) prune(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.Retention)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		s.log.Warn("journal prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Debug("journal pruned", logx.Int("dropped", n), logx.Time("cutoff", cutoff))
	}
}
