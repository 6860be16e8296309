package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"snooze/internal/eventbus"
	"snooze/internal/sched"
	logx "snooze/pkg/logx"
)

func newFileStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "oracle"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileAppendRecent(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		e := Entry{
			At:     base.Add(time.Duration(i) * time.Second),
			Shard:  "main",
			TaskID: "t-1",
			Event:  sched.EventFired,
		}
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := st.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("recent returned %d entries, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].At.After(got[i-1].At) {
			t.Fatalf("entries not newest-first: %v before %v", got[i-1].At, got[i].At)
		}
	}
	if !got[0].At.Equal(base.Add(4 * time.Second)) {
		t.Fatalf("newest entry at %v", got[0].At)
	}
}

func TestFilePruneBefore(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	for i := 0; i < 4; i++ {
		if err := st.Append(ctx, Entry{At: base.Add(time.Duration(i) * time.Hour), Event: sched.EventFired}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	dropped, err := st.PruneBefore(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if dropped != 2 {
		t.Fatalf("dropped %d, want 2", dropped)
	}

	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent after prune: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("%d entries survive, want 2", len(got))
	}

	// The store keeps working after the rewrite.
	if err := st.Append(ctx, Entry{At: base.Add(5 * time.Hour), Event: sched.EventFired}); err != nil {
		t.Fatalf("append after prune: %v", err)
	}
	got, err = st.Recent(ctx, 10)
	if err != nil || len(got) != 3 {
		t.Fatalf("recent = %d entries, %v; want 3", len(got), err)
	}
}

func TestFileSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Append(ctx, Entry{At: time.Now(), Event: sched.EventFired}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Simulate a torn write in the middle of the file.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := f.WriteString("{\"at\": garbage\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	_ = f.Close()
	if err := st.Append(ctx, Entry{At: time.Now(), Event: sched.EventCancelled}); err != nil {
		t.Fatalf("append after garbage: %v", err)
	}

	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("recent = %d entries, want the 2 valid ones", len(got))
	}
}

func TestServiceTailsBusEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	st := newFileStore(t)
	svc := New(Config{Driver: "file"}, st, logx.Nop(), bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	bus.Publish(eventbus.Event{Type: sched.EventScheduled, Data: sched.TaskEvent{
		Shard: "main", ID: "t-1", Mode: "async", Deadline: time.Now().Add(time.Second),
	}})
	bus.Publish(eventbus.Event{Type: "config.reloaded", Data: "ignored"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := svc.Recent(context.Background(), 10)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(got) == 1 {
			if got[0].Shard != "main" || got[0].TaskID != "t-1" || got[0].Event != sched.EventScheduled {
				t.Fatalf("entry = %+v", got[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal has %d entries, want 1", len(got))
		}
		time.Sleep(10 * time.Millisecond)
	}

	svc.Stop(context.Background())
}

func TestServiceDisabled(t *testing.T) {
	t.Parallel()
	svc := New(Config{}, nil, logx.Nop(), eventbus.New())
	svc.Start(context.Background())
	if _, err := svc.Recent(context.Background(), 5); err != ErrDisabled {
		t.Fatalf("recent = %v, want ErrDisabled", err)
	}
	svc.Stop(context.Background())
}
