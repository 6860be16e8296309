// Package registry names and routes to scheduler shards.
//
// A Registry owns a fixed set of independently running sched.Scheduler
// instances and resolves logical shard names to them. The default shard name
// is an explicit configuration value, not an ambient global: callers that
// want "the default" ask for it by resolving the empty selector, and the
// registry substitutes the configured name before routing.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"snooze/internal/eventbus"
	"snooze/internal/sched"
	logx "snooze/pkg/logx"
)

// UnresolvedHandleError reports a selector that maps to no shard. It is a
// caller-side configuration error: fatal to the call, harmless to every
// shard.
type UnresolvedHandleError struct {
	Name string
}

func (e UnresolvedHandleError) Error() string {
	return fmt.Sprintf("registry: no shard named %q", e.Name)
}

// Config describes the shard topology.
type Config struct {
	// DefaultShard is the name substituted for an empty selector.
	DefaultShard string
	Shards       []sched.Config
}

// Registry routes requests to named shards. The shard set is fixed at
// construction; changing topology means building a new Registry.
type Registry struct {
	log logx.Logger

	shards map[string]*sched.Scheduler
	order  []string
	def    string

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds the shards without starting them.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if len(cfg.Shards) == 0 {
		return nil, fmt.Errorf("registry: at least one shard required")
	}

	r := &Registry{log: log, shards: map[string]*sched.Scheduler{}}
	for _, sc := range cfg.Shards {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return nil, fmt.Errorf("registry: shard name required")
		}
		if _, dup := r.shards[name]; dup {
			return nil, fmt.Errorf("registry: duplicate shard name %q", name)
		}
		sc.Name = name
		r.shards[name] = sched.New(sc, log, bus)
		r.order = append(r.order, name)
	}

	def := strings.TrimSpace(cfg.DefaultShard)
	if def == "" {
		def = r.order[0]
	}
	if _, ok := r.shards[def]; !ok {
		return nil, fmt.Errorf("registry: default shard %q not defined", def)
	}
	r.def = def
	return r, nil
}

func (r *Registry) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		for _, name := range r.order {
			r.shards[name].Start(ctx)
		}
		r.log.Info("shards started", logx.Int("count", len(r.order)), logx.String("default", r.def))
	})
}

func (r *Registry) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		for _, name := range r.order {
			r.shards[name].Stop(ctx)
		}
		r.log.Info("shards stopped")
	})
}

// Names returns the shard names in configuration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// ResolveDefault returns the configured default shard.
func (r *Registry) ResolveDefault() *sched.Scheduler {
	return r.shards[r.def]
}

// Resolve maps a selector to a concrete shard. The empty selector resolves to
// the configured default.
func (r *Registry) Resolve(selector string) (*sched.Scheduler, error) {
	name := strings.TrimSpace(selector)
	if name == "" {
		name = r.def
	}
	s, ok := r.shards[name]
	if !ok {
		return nil, UnresolvedHandleError{Name: name}
	}
	return s, nil
}

// ---- thin call routing ----

// Register routes a registration to the selected shard.
func (r *Registry) Register(ctx context.Context, selector string, reg sched.RegisterRequest) (sched.TaskID, error) {
	s, err := r.Resolve(selector)
	if err != nil {
		return "", err
	}
	return s.Register(ctx, reg)
}

// RegisterNoReply routes a fire-and-forget registration.
func (r *Registry) RegisterNoReply(ctx context.Context, selector string, reg sched.RegisterRequest) error {
	s, err := r.Resolve(selector)
	if err != nil {
		return err
	}
	return s.RegisterNoReply(ctx, reg)
}

// Cancel routes a cancel to the selected shard.
func (r *Registry) Cancel(ctx context.Context, selector string, id sched.TaskID) (sched.CancelResult, error) {
	s, err := r.Resolve(selector)
	if err != nil {
		return sched.CancelResult{}, err
	}
	return s.Cancel(ctx, id)
}

// CancelAndRun routes a cancel-and-run to the selected shard.
func (r *Registry) CancelAndRun(ctx context.Context, selector string, id sched.TaskID, mode sched.Mode) (sched.CancelResult, error) {
	s, err := r.Resolve(selector)
	if err != nil {
		return sched.CancelResult{}, err
	}
	return s.CancelAndRun(ctx, id, mode)
}

// Change routes a change to the selected shard.
func (r *Registry) Change(ctx context.Context, selector string, id sched.TaskID, ch sched.ChangeRequest) (sched.TaskID, error) {
	s, err := r.Resolve(selector)
	if err != nil {
		return "", err
	}
	return s.Change(ctx, id, ch)
}

// Snapshots collects diagnostics from every shard, in configuration order.
func (r *Registry) Snapshots(ctx context.Context) ([]sched.Snapshot, error) {
	out := make([]sched.Snapshot, 0, len(r.order))
	for _, name := range r.order {
		snap, err := r.shards[name].Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", name, err)
		}
		out = append(out, snap)
	}
	return out, nil
}
