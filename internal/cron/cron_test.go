package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestService_AddAndJobs(t *testing.T) {
	s := NewService(zerolog.Nop())

	if err := s.Add("session-sweep", "@every 1m", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := s.Add("stats-snapshot", "0 */5 * * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	jobs := s.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].Name != "session-sweep" || jobs[1].Name != "stats-snapshot" {
		t.Errorf("jobs = %q, %q; want registration order", jobs[0].Name, jobs[1].Name)
	}
	if jobs[1].Spec != "0 */5 * * * *" {
		t.Errorf("spec = %q", jobs[1].Spec)
	}
}

func TestService_AddRejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := NewService(zerolog.Nop())
	noop := func(context.Context) error { return nil }

	if err := s.Add("job", "@every 1m", noop); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := s.Add("job", "@every 2m", noop); err == nil {
		t.Error("expected error for duplicate name")
	}
	if err := s.Add("bad", "not a cron expr", noop); err == nil {
		t.Error("expected error for invalid spec")
	}
	// Five-field specs are rejected because the parser expects seconds.
	if err := s.Add("five", "0 * * * *", noop); err == nil {
		t.Error("expected error for five-field spec")
	}
	if len(s.Jobs()) != 1 {
		t.Errorf("len(jobs) = %d, want 1", len(s.Jobs()))
	}
}

func TestService_Remove(t *testing.T) {
	s := NewService(zerolog.Nop())
	_ = s.Add("a", "@every 1m", func(context.Context) error { return nil })
	_ = s.Add("b", "@every 1m", func(context.Context) error { return nil })

	if !s.Remove("a") {
		t.Error("Remove returned false")
	}
	if s.Remove("nonexistent") {
		t.Error("Remove should return false for nonexistent")
	}
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Name != "b" {
		t.Errorf("jobs = %+v, want only b", jobs)
	}
}

func TestService_RunNowRecordsState(t *testing.T) {
	s := NewService(zerolog.Nop())
	fail := true
	_ = s.Add("flaky", "@every 1h", func(context.Context) error {
		if fail {
			return errors.New("redis unavailable")
		}
		return nil
	})

	if err := s.RunNow("flaky"); err == nil {
		t.Fatal("expected job error")
	}
	state := s.Jobs()[0].State
	if state.Runs != 1 || state.LastStatus != "error" || state.LastError != "redis unavailable" {
		t.Errorf("state = %+v", state)
	}
	if state.LastRunAt.IsZero() {
		t.Error("LastRunAt should be set")
	}

	fail = false
	if err := s.RunNow("flaky"); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}
	state = s.Jobs()[0].State
	if state.Runs != 2 || state.LastStatus != "ok" || state.LastError != "" {
		t.Errorf("state = %+v", state)
	}

	if err := s.RunNow("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("err = %v, want ErrUnknownJob", err)
	}
}

func TestService_ScheduledRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewService(zerolog.Nop())
	var calls atomic.Int32
	_ = s.Add("tick", "@every 1s", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.After(3 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job did not run")
		case <-time.After(20 * time.Millisecond):
		}
	}
	if next := s.Jobs()[0].Next; next.IsZero() {
		t.Error("running job should report its next run")
	}

	s.Stop()
	s.Stop()
}

func TestService_ParentCancelStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewService(zerolog.Nop())
	jobCtx := make(chan context.Context, 1)
	_ = s.Add("capture", "@every 1h", func(ctx context.Context) error {
		jobCtx <- ctx
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	_ = s.RunNow("capture")
	captured := <-jobCtx

	cancel()
	select {
	case <-captured.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job context should be cancelled after parent cancel")
	}

	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			break
		}
		select {
		case <-deadline:
			t.Fatal("service did not stop after parent cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
