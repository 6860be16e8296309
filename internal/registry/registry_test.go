package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"snooze/internal/sched"
	logx "snooze/pkg/logx"
)

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r, err := New(cfg, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	t.Cleanup(func() {
		r.Stop(context.Background())
		cancel()
	})
	return r
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for empty shard set")
	}
	if _, err := New(Config{Shards: []sched.Config{{Name: "a"}, {Name: "a"}}}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for duplicate shard name")
	}
	if _, err := New(Config{
		DefaultShard: "ghost",
		Shards:       []sched.Config{{Name: "a"}},
	}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for undefined default shard")
	}
}

func TestResolveDefault(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{
		DefaultShard: "b",
		Shards:       []sched.Config{{Name: "a"}, {Name: "b"}},
	})

	s, err := r.Resolve("")
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if s.Name() != "b" {
		t.Fatalf("default resolved to %s, want b", s.Name())
	}
	if got := r.ResolveDefault(); got != s {
		t.Fatalf("ResolveDefault = %v, want the b shard", got.Name())
	}

	_, err = r.Resolve("c")
	var ue UnresolvedHandleError
	if !errors.As(err, &ue) || ue.Name != "c" {
		t.Fatalf("resolve unknown = %v, want UnresolvedHandleError{c}", err)
	}
}

func TestDefaultShardFallsBackToFirst(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{
		Shards: []sched.Config{{Name: "first"}, {Name: "second"}},
	})
	s, err := r.Resolve("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.Name() != "first" {
		t.Fatalf("default = %s, want first declared shard", s.Name())
	}
}

func TestRoutingIsPerShard(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{
		Shards: []sched.Config{{Name: "a"}, {Name: "b"}},
	})

	id, err := r.Register(context.Background(), "a", sched.RegisterRequest{
		Delay:    time.Hour,
		Callback: func() any { return nil },
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// The task lives on shard a only; shard b knows nothing about the id.
	var nf sched.NotFoundError
	if _, err := r.Cancel(context.Background(), "b", id); !errors.As(err, &nf) {
		t.Fatalf("cancel on wrong shard = %v, want NotFoundError", err)
	}
	if _, err := r.Cancel(context.Background(), "a", id); err != nil {
		t.Fatalf("cancel on owning shard: %v", err)
	}
}

func TestSnapshotsInOrder(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, Config{
		Shards: []sched.Config{{Name: "z"}, {Name: "a"}},
	})

	snaps, err := r.Snapshots(context.Background())
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snaps) != 2 || snaps[0].Name != "z" || snaps[1].Name != "a" {
		t.Fatalf("snapshots = %+v, want configuration order", snaps)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "z" || names[1] != "a" {
		t.Fatalf("names = %v, want configuration order", names)
	}
}
