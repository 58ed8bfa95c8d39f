package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wesm/formvault/internal/config"
	"github.com/wesm/formvault/internal/metrics"
	"github.com/wesm/formvault/internal/prefs"
)

func noop(context.Context) error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	s := New()

	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.cron == nil {
		t.Error("cron is nil")
	}
	if s.jobs == nil {
		t.Error("jobs map is nil")
	}
}

func TestAddJob(t *testing.T) {
	s := New()

	if err := s.AddJob("prune", "0 2 * * *", noop); err != nil {
		t.Errorf("AddJob() error = %v", err)
	}
	if !s.IsScheduled("prune") {
		t.Error("job was not added")
	}
}

func TestAddJobInvalidCron(t *testing.T) {
	s := New()

	if err := s.AddJob("prune", "invalid cron", noop); err == nil {
		t.Error("AddJob() with invalid cron should return error")
	}
	if s.IsScheduled("prune") {
		t.Error("invalid job should not be scheduled")
	}
}

func TestAddJobReplacesExisting(t *testing.T) {
	s := New()

	if err := s.AddJob("prune", "0 2 * * *", noop); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.mu.RLock()
	firstID := s.jobs["prune"]
	s.mu.RUnlock()

	if err := s.AddJob("prune", "0 3 * * *", noop); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.mu.RLock()
	secondID := s.jobs["prune"]
	schedule := s.schedules["prune"]
	s.mu.RUnlock()

	if firstID == secondID {
		t.Error("job ID was not updated after replacement")
	}
	if schedule != "0 3 * * *" {
		t.Errorf("schedule = %q, want replacement", schedule)
	}
}

func TestRemoveJob(t *testing.T) {
	s := New()

	if err := s.AddJob("prune", "0 2 * * *", noop); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.RemoveJob("prune")

	if s.IsScheduled("prune") {
		t.Error("job still exists after RemoveJob()")
	}

	// Should not panic
	s.RemoveJob("nonexistent")
}

func TestAddJobsFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		maxAge   string
		want     int
		wantErr  bool
	}{
		{"defaults", "0 3 * * *", "720h", 1, false},
		{"no schedule", "", "720h", 0, false},
		{"no max age", "0 3 * * *", "", 0, false},
		{"bad schedule", "not a cron", "720h", 0, true},
		{"bad max age", "0 3 * * *", "forever", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New().WithLogger(quietLogger())
			cfg := config.NewDefaultConfig()
			cfg.Preferences.PruneSchedule = tt.schedule
			cfg.Preferences.MaxAge = tt.maxAge

			n, err := s.AddJobsFromConfig(cfg, prefs.NewMemoryStore())
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddJobsFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if n != tt.want {
				t.Errorf("scheduled = %d, want %d", n, tt.want)
			}
			if got := s.IsScheduled(PruneJobName); got != (tt.want == 1) {
				t.Errorf("IsScheduled(%q) = %v", PruneJobName, got)
			}
		})
	}
}

func TestPruneJob(t *testing.T) {
	ctx := context.Background()
	store := prefs.NewMemoryStore()
	if err := store.Set(ctx, 1, "form.page", 3); err != nil {
		t.Fatalf("Set: %v", err)
	}

	before := testutil.ToFloat64(metrics.PreferencesPruned)

	// A clock far in the future makes every stored preference stale.
	future := func() time.Time { return time.Now().Add(48 * time.Hour) }
	job := PruneJob(store, 24*time.Hour, future, quietLogger())
	if err := job(ctx); err != nil {
		t.Fatalf("prune job: %v", err)
	}

	var page int
	if ok, _ := store.Get(ctx, 1, "form.page", &page); ok {
		t.Error("stale preference survived pruning")
	}
	if got := testutil.ToFloat64(metrics.PreferencesPruned) - before; got != 1 {
		t.Errorf("PreferencesPruned increased by %v, want 1", got)
	}
}

func TestStartStop(t *testing.T) {
	s := New()

	s.Start()
	ctx := s.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Stop() did not complete in time")
	}
}

func TestIsRunning(t *testing.T) {
	s := New()

	if s.IsRunning() {
		t.Error("IsRunning() = true before Start()")
	}

	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}

	ctx := s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Stop() did not complete in time")
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	s := New()

	if err := s.AddJob("slow", "0 0 1 1 *", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if err := s.Trigger("slow"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job did not start")
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Error("Stop() did not complete after cancelling job")
	}

	for _, status := range s.Status() {
		if status.Name == "slow" && status.LastError == "" {
			t.Error("expected error after cancelled job")
		}
	}
}

func TestTrigger(t *testing.T) {
	var called atomic.Int32
	s := New()

	if err := s.AddJob("prune", "0 0 1 1 *", func(ctx context.Context) error {
		called.Add(1)
		time.Sleep(50 * time.Millisecond)
		return nil
	}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if err := s.Trigger("prune"); err != nil {
		t.Errorf("Trigger() = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if err := s.Trigger("prune"); err == nil {
		t.Error("Trigger() while running = nil, want error")
	}

	time.Sleep(100 * time.Millisecond)

	if called.Load() != 1 {
		t.Errorf("job called %d times, want 1", called.Load())
	}
}

func TestTriggerUnknownJob(t *testing.T) {
	s := New()
	if err := s.Trigger("missing"); err == nil {
		t.Error("Trigger() of unscheduled job = nil, want error")
	}
}

func TestTriggerPreventsDoubleRun(t *testing.T) {
	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32

	s := New()
	if err := s.AddJob("prune", "0 0 1 1 *", func(ctx context.Context) error {
		c := concurrent.Add(1)
		if c > maxConcurrent.Load() {
			maxConcurrent.Store(c)
		}
		time.Sleep(50 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	for i := 0; i < 5; i++ {
		_ = s.Trigger("prune")
	}

	time.Sleep(200 * time.Millisecond)

	if maxConcurrent.Load() > 1 {
		t.Errorf("max concurrent = %d, want 1", maxConcurrent.Load())
	}
}

func TestStatus(t *testing.T) {
	s := New()

	if err := s.AddJob("prune", "0 2 * * *", noop); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := s.AddJob("vacuum", "0 3 * * *", noop); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.Start()
	defer s.Stop()

	statuses := s.Status()
	if len(statuses) != 2 {
		t.Errorf("len(Status()) = %d, want 2", len(statuses))
	}

	var found bool
	for _, status := range statuses {
		if status.Name == "prune" {
			found = true
			if status.Running {
				t.Error("status.Running = true, want false")
			}
			if status.NextRun.IsZero() {
				t.Error("status.NextRun is zero")
			}
			if status.Schedule != "0 2 * * *" {
				t.Errorf("status.Schedule = %q", status.Schedule)
			}
		}
	}
	if !found {
		t.Error("prune not found in status")
	}
}

func TestStatusAfterRun(t *testing.T) {
	tests := []struct {
		name    string
		fn      JobFunc
		wantErr bool
	}{
		{"success", noop, false},
		{"failure", func(context.Context) error { return errors.New("prune failed") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New().WithLogger(quietLogger())
			if err := s.AddJob("prune", "0 0 1 1 *", tt.fn); err != nil {
				t.Fatalf("AddJob: %v", err)
			}
			if err := s.Trigger("prune"); err != nil {
				t.Fatalf("Trigger: %v", err)
			}

			time.Sleep(50 * time.Millisecond)

			statuses := s.Status()
			if len(statuses) != 1 {
				t.Fatalf("len(Status()) = %d, want 1", len(statuses))
			}
			st := statuses[0]
			if tt.wantErr {
				if st.LastError == "" {
					t.Error("LastError should be set after failed run")
				}
				return
			}
			if st.LastRun.IsZero() {
				t.Error("LastRun should be set after successful run")
			}
			if st.LastError != "" {
				t.Errorf("LastError = %q, want empty", st.LastError)
			}
		})
	}
}

func TestTriggerAfterStop(t *testing.T) {
	s := New()

	if err := s.AddJob("prune", "0 0 1 1 *", noop); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop() did not complete in time")
	}

	if err := s.Trigger("prune"); err == nil {
		t.Error("Trigger() after Stop() = nil, want error")
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 2 * * *", false},    // 2am daily
		{"*/15 * * * *", false}, // Every 15 minutes
		{"0 0 1 * *", false},    // Monthly on 1st
		{"0 0 * * 0", false},    // Weekly on Sunday
		{"invalid", true},
		{"* * * * * *", true}, // Too many fields
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronExpr(%q) error = %v, wantErr = %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}
