// Package scheduler provides one durable, gocron-backed scheduler per agent
// instance. Rows in the instance's own `schedules` table drive one-shot,
// interval, and cron jobs that survive hibernation and restart — on Start,
// every persisted row is re-registered with a fresh gocron.Scheduler.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/instancedb"
	"github.com/arkeep-io/agenthost/internal/metrics"
)

// CallbackFunc is user code registered under a name and invoked when a
// schedule row with that Callback fires. payload is the row's opaque JSON
// payload; sched is the full row so the callback can inspect its own id.
type CallbackFunc func(ctx context.Context, payload []byte, sched instancedb.Schedule) error

// Scheduler wraps one gocron.Scheduler for a single agent instance. The zero
// value is not usable — create instances with New.
type Scheduler struct {
	db     *gorm.DB
	logger *zap.Logger

	mu        sync.Mutex
	cron      gocron.Scheduler
	callbacks map[string]CallbackFunc
	jobs      map[string]gocron.Job // schedule id -> gocron job, for CancelTask
	started   bool

	metrics *metrics.Metrics
}

// SetMetrics wires m so every callback fire is recorded against
// agenthost_scheduler_fires_total. Optional; a Scheduler with no metrics
// wired simply skips recording.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// New constructs a Scheduler backed by db. Call Start once the agent type's
// callbacks are registered.
func New(db *gorm.DB, logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		db:        db,
		logger:    logger.Named("scheduler"),
		cron:      cron,
		callbacks: make(map[string]CallbackFunc),
		jobs:      make(map[string]gocron.Job),
	}, nil
}

// RegisterCallback binds name so schedule rows with Callback == name invoke
// fn when they fire. Must be called before Start for rows that already
// exist, and before any ScheduleTask/ScheduleRecurring/ScheduleCron call
// that references name.
func (s *Scheduler) RegisterCallback(name string, fn CallbackFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[name] = fn
}

// Start loads every persisted schedule row and registers it with gocron,
// then starts the underlying scheduler. Called once per instance wake,
// mirroring the teacher's original policy-loading Start.
func (s *Scheduler) Start(ctx context.Context) error {
	var rows []instancedb.Schedule
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("scheduler: failed to load schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range rows {
		if err := s.addJobLocked(rows[i]); err != nil {
			s.logger.Error("failed to schedule row",
				zap.String("id", rows[i].ID),
				zap.String("type", string(rows[i].Type)),
				zap.Error(err),
			)
		}
	}

	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", zap.Int("schedules_loaded", len(rows)))
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for
// any in-flight callback to finish. Called when the instance hibernates.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown error: %w", err)
	}
	s.started = false
	return nil
}

// lookupCallback resolves a callback name, wrapped as agenterr.NotFound so
// ScheduleTask/ScheduleRecurring/ScheduleCron fail fast on a typo rather
// than silently persisting a row nothing will ever fire.
func (s *Scheduler) lookupCallback(name string) (CallbackFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.callbacks[name]
	if !ok {
		return nil, agenterr.New(agenterr.NotFound, fmt.Sprintf("scheduler: no callback registered under %q", name))
	}
	return fn, nil
}
