// Package scheduler provides cron-based scheduling for maintenance jobs such
// as pruning stale viewer preferences.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wesm/formvault/internal/config"
	"github.com/wesm/formvault/internal/metrics"
	"github.com/wesm/formvault/internal/prefs"
)

// JobFunc is the callback invoked when a scheduled job should run.
type JobFunc func(ctx context.Context) error

// PruneJobName is the name of the preference pruning job.
const PruneJobName = "prune-preferences"

// JobStatus represents the state of a scheduled job.
type JobStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages cron-based jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu        sync.RWMutex
	jobs      map[string]cron.EntryID // name -> cron entry ID
	funcs     map[string]JobFunc      // name -> callback
	schedules map[string]string       // name -> cron expression
	running   map[string]bool         // name -> currently running
	lastRun   map[string]time.Time    // name -> last successful run
	lastErr   map[string]error        // name -> last error

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running job goroutines
	started bool               // true after Start(), false after Stop()
	stopped bool               // true after Stop()
}

// New creates a new Scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		logger:    slog.Default(),
		jobs:      make(map[string]cron.EntryID),
		funcs:     make(map[string]JobFunc),
		schedules: make(map[string]string),
		running:   make(map[string]bool),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]error),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddJob schedules fn under name using the given cron expression, replacing
// any job of the same name. Returns an error if the cron expression is invalid.
func (s *Scheduler) AddJob(name, cronExpr string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		delete(s.schedules, name)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[name] {
			s.mu.Unlock()
			return
		}
		s.running[name] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runJob(name)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[name] = entryID
	s.funcs[name] = fn
	s.schedules[name] = cronExpr
	s.logger.Info("scheduled job",
		"job", name,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)

	return nil
}

// AddJobsFromConfig schedules the configured maintenance jobs. Pruning is
// skipped when either its schedule or its max age is empty. It returns the
// number of jobs scheduled.
func (s *Scheduler) AddJobsFromConfig(cfg *config.Config, store prefs.Store) (int, error) {
	maxAge, err := cfg.Preferences.MaxAgeDuration()
	if err != nil {
		return 0, err
	}
	if cfg.Preferences.PruneSchedule == "" || maxAge == 0 {
		return 0, nil
	}
	if err := s.AddJob(PruneJobName, cfg.Preferences.PruneSchedule, PruneJob(store, maxAge, time.Now, s.logger)); err != nil {
		return 0, fmt.Errorf("%s: %w", PruneJobName, err)
	}
	return 1, nil
}

// PruneJob returns a job deleting preferences not updated within maxAge.
func PruneJob(store prefs.Store, maxAge time.Duration, now func() time.Time, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		cutoff := now().Add(-maxAge)
		n, err := store.Prune(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune preferences: %w", err)
		}
		metrics.PreferencesPruned.Add(float64(n))
		logger.Info("pruned viewer preferences", "removed", n, "cutoff", cutoff)
		return nil
	}
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		delete(s.funcs, name)
		delete(s.schedules, name)
		s.logger.Info("removed schedule", "job", name)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop gracefully stops the scheduler, cancels running jobs, and waits
// for them to finish. Returns a context that is done when all work completes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// runJob executes a job (called by cron or Trigger).
// The caller must have already called wg.Add(1) and set running[name] = true.
func (s *Scheduler) runJob(name string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	s.mu.RLock()
	fn := s.funcs[name]
	s.mu.RUnlock()
	if fn == nil {
		return
	}

	s.logger.Info("starting scheduled job", "job", name)
	start := time.Now()

	err := fn(s.ctx)

	s.mu.Lock()
	if err != nil {
		s.lastErr[name] = err
		s.logger.Error("scheduled job failed",
			"job", name,
			"duration", time.Since(start),
			"error", err)
	} else {
		s.lastRun[name] = time.Now()
		s.lastErr[name] = nil
		s.logger.Info("scheduled job completed",
			"job", name,
			"duration", time.Since(start))
	}
	s.mu.Unlock()
}

// IsScheduled returns true if a job with name has been added.
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[name]
	return exists
}

// Trigger runs a job now, outside of its schedule.
// Returns an error if it is already running, not scheduled, or the scheduler
// has been stopped.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	if _, exists := s.jobs[name]; !exists {
		return fmt.Errorf("job %s is not scheduled", name)
	}
	if s.running[name] {
		return fmt.Errorf("job %s is already running", name)
	}

	s.running[name] = true
	s.wg.Add(1)
	go s.runJob(name)
	return nil
}

// Status returns the current status of all scheduled jobs.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []JobStatus
	for name, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		status := JobStatus{
			Name:     name,
			Running:  s.running[name],
			LastRun:  s.lastRun[name],
			NextRun:  entry.Next,
			Schedule: s.schedules[name],
		}
		if err := s.lastErr[name]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
