package audit

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule prunes the log daily at 03:00.
const DefaultRetentionSchedule = "0 3 * * *"

// Pruner is implemented by Sink.
type Pruner interface {
	Prune(keep int) (int, error)
}

// Retention prunes the audit log on a cron schedule.
type Retention struct {
	pruner   Pruner
	keep     int
	schedule string
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewRetention validates the schedule and returns a stopped retention job.
func NewRetention(p Pruner, schedule string, keep int, logger *slog.Logger) (*Retention, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("audit: invalid retention schedule %q: %w", schedule, err)
	}
	if keep <= 0 {
		return nil, fmt.Errorf("audit: retention keep must be positive, got %d", keep)
	}
	return &Retention{
		pruner:   p,
		keep:     keep,
		schedule: schedule,
		logger:   logger.With("component", "audit-retention"),
	}, nil
}

// Start schedules pruning. Calling Start twice is a no-op.
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.RunOnce); err != nil {
		return fmt.Errorf("audit: schedule retention: %w", err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("audit retention scheduled", "schedule", r.schedule, "keep", r.keep)
	return nil
}

// RunOnce prunes immediately.
func (r *Retention) RunOnce() {
	removed, err := r.pruner.Prune(r.keep)
	if err != nil {
		r.logger.Error("audit retention failed", "error", err)
		return
	}
	if removed > 0 {
		r.logger.Info("audit retention pruned entries", "removed", removed)
	}
}

// Stop halts the schedule and waits for a running prune to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
