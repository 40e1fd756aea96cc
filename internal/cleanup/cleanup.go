package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arceon/internal/metrics"
	"github.com/robfig/cron/v3"
)

// runTimeout bounds one purge run
const runTimeout = time.Minute

// CleanupResult represents the result of a cleanup run
type CleanupResult struct {
	Step      string        `json:"step"`
	Success   bool          `json:"success"`
	Removed   int64         `json:"removed"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// Purger removes stale authorized clients; *oauth2client.Service satisfies it
type Purger interface {
	PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Scheduler runs the stale token purge on a cron schedule
type Scheduler struct {
	purger    Purger
	olderThan time.Duration
	schedule  string
	metrics   *metrics.Metrics
	logger    *slog.Logger

	cron *cron.Cron

	mu         sync.Mutex
	lastResult *CleanupResult
	runCount   int
}

// NewScheduler validates the schedule and creates a scheduler. metrics may be nil.
func NewScheduler(purger Purger, schedule string, olderThan time.Duration, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if olderThan <= 0 {
		return nil, fmt.Errorf("purge age must be positive, got %v", olderThan)
	}

	s := &Scheduler{
		purger:    purger,
		olderThan: olderThan,
		schedule:  schedule,
		metrics:   m,
		logger:    logger,
		cron:      cron.New(),
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background
func (s *Scheduler) Start() {
	s.logger.Info("Token purge scheduled", "schedule", s.schedule, "older_than", s.olderThan)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Token purge still running at shutdown")
	}
}

// RunOnce performs one purge and records its result
func (s *Scheduler) RunOnce(ctx context.Context) CleanupResult {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	result := CleanupResult{
		Step:      "Purge stale authorized clients",
		StartedAt: start,
	}

	removed, err := s.purger.PurgeStale(ctx, s.olderThan)
	result.Duration = time.Since(start)
	result.Success = err == nil
	result.Removed = removed

	if err != nil {
		result.Error = err.Error()
		s.logger.Error("Cleanup step failed", "step", result.Step, "error", err, "duration", result.Duration)
	} else {
		s.metrics.RecordPurge(removed)
		if removed > 0 {
			s.logger.Info("Stale authorized clients purged", "removed", removed, "duration", result.Duration)
		} else {
			s.logger.Debug("No stale authorized clients", "duration", result.Duration)
		}
	}

	s.mu.Lock()
	s.lastResult = &result
	s.runCount++
	s.mu.Unlock()

	return result
}

// LastResult returns the most recent run, if any
func (s *Scheduler) LastResult() (CleanupResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return CleanupResult{}, false
	}
	return *s.lastResult, true
}

// RunCount returns how many purges have completed
func (s *Scheduler) RunCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCount
}
