package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "pricebot/pkg/logx"
)

func TestTickSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var runs atomic.Int64
	if _, err := s.AddInterval("job", time.Hour, 0, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddInterval error: %v", err)
	}

	d := &s.defs[0]
	// Previous run still active: the tick must be dropped, not queued.
	d.state.mu.Lock()
	d.state.running = true
	d.state.mu.Unlock()
	s.tick(d)
	if got := len(s.queue); got != 0 {
		t.Fatalf("queue len = %d after skipped tick, want 0", got)
	}

	d.state.release()
	s.tick(d)
	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran after release")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestExecOneRecordsFailure(t *testing.T) {
	t.Parallel()
	s := New(Config{HistorySize: 2}, logx.Nop())

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		s.execOne(context.Background(), task{
			id: "job:1", name: "job",
			run:   func(ctx context.Context) error { return boom },
			state: &runState{},
		})
	}

	s.hmu.Lock()
	defer s.hmu.Unlock()
	if len(s.history) != 2 {
		t.Fatalf("history len = %d, want cap 2", len(s.history))
	}
	for _, h := range s.history {
		if h.Error != "boom" {
			t.Fatalf("history error = %q, want boom", h.Error)
		}
	}
}

func TestExecOneAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	var got error
	s.execOne(context.Background(), task{
		id: "job:1", name: "job", timeout: 20 * time.Millisecond,
		run: func(ctx context.Context) error {
			<-ctx.Done()
			got = ctx.Err()
			return got
		},
		state: &runState{},
	})
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("ctx err = %v, want deadline exceeded", got)
	}
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	if _, err := s.AddSchedule("job", "10m", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule error: %v", err)
	}
	if _, err := s.AddSchedule("job", "20m", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule error: %v", err)
	}
	if len(s.defs) != 1 {
		t.Fatalf("defs len = %d, want 1 after upsert", len(s.defs))
	}
	if s.defs[0].spec != "@every 20m0s" {
		t.Fatalf("spec = %q", s.defs[0].spec)
	}

	if !s.Remove("job") {
		t.Fatal("Remove returned false")
	}
	if len(s.defs) != 0 {
		t.Fatalf("defs len = %d after remove", len(s.defs))
	}
}

func TestSnapshotListsSchedules(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 3}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if _, err := s.AddCron("slow", "3 9,15 * * *", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddCron error: %v", err)
	}

	snap := s.CurrentSnapshot()
	if !snap.Enabled || snap.Workers != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Schedules) != 1 || snap.Schedules[0].Name != "slow" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatal("expected a computed next run time")
	}
}
