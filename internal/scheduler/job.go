package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/arkeep-io/agenthost/internal/instancedb"
)

// addJobLocked registers one schedule row as a gocron job, branching on
// Type: OneTimeJob for one-shot ("scheduled") rows, DurationJob for
// interval ("delayed") rows, CronJob for cron expressions. Callers must
// hold s.mu.
func (s *Scheduler) addJobLocked(row instancedb.Schedule) error {
	var (
		job gocron.JobDefinition
	)

	switch row.Type {
	case instancedb.ScheduleOnce:
		if row.Time == nil {
			return fmt.Errorf("scheduler: scheduled row %s has no time", row.ID)
		}
		job = gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(*row.Time))

	case instancedb.ScheduleInterval:
		if row.IntervalSeconds == nil {
			return fmt.Errorf("scheduler: delayed row %s has no intervalSeconds", row.ID)
		}
		job = gocron.DurationJob(time.Duration(*row.IntervalSeconds) * time.Second)

	case instancedb.ScheduleCron:
		if row.Cron == nil {
			return fmt.Errorf("scheduler: cron row %s has no cron expression", row.ID)
		}
		job = gocron.CronJob(*row.Cron, false)

	default:
		return fmt.Errorf("scheduler: row %s has unknown type %q", row.ID, row.Type)
	}

	gocronJob, err := s.cron.NewJob(
		job,
		gocron.NewTask(func(id string) { s.fire(id) }, row.ID),
		gocron.WithTags(row.ID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: gocron.NewJob failed for %s (type %s): %w", row.ID, row.Type, err)
	}
	s.jobs[row.ID] = gocronJob
	return nil
}

// fire is the task gocron invokes on every tick for schedule id. It reloads
// the row (so a concurrently cancelled schedule is observed), recovers from
// a panicking callback per §4.6's "a throwing callback does not cancel the
// schedule," and applies the one-shot-deletes / recurring-advances failure
// semantics.
func (s *Scheduler) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var row instancedb.Schedule
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		// Row was cancelled/deleted between tick scheduling and firing.
		return
	}

	s.runCallback(ctx, row)

	switch row.Type {
	case instancedb.ScheduleOnce:
		if err := s.db.WithContext(ctx).Delete(&instancedb.Schedule{}, "id = ?", row.ID).Error; err != nil {
			s.logger.Warn("failed to delete fired one-shot schedule", zap.String("id", row.ID), zap.Error(err))
		}
		s.mu.Lock()
		delete(s.jobs, row.ID)
		s.mu.Unlock()

	case instancedb.ScheduleInterval:
		if row.IntervalSeconds != nil {
			next := time.Now().Add(time.Duration(*row.IntervalSeconds) * time.Second)
			if err := s.db.WithContext(ctx).Model(&instancedb.Schedule{}).Where("id = ?", row.ID).Update("time", next).Error; err != nil {
				s.logger.Warn("failed to advance interval schedule", zap.String("id", row.ID), zap.Error(err))
			}
		}

	case instancedb.ScheduleCron:
		// gocron.CronJob computes its own next fire; nothing to persist.
	}
}

// runCallback invokes the callback registered for row.Callback, isolating a
// panic with recover() plus a logged error — the concretization of "a
// throwing callback does not cancel the schedule."
func (s *Scheduler) runCallback(ctx context.Context, row instancedb.Schedule) {
	fn, err := s.lookupCallback(row.Callback)
	if err != nil {
		s.logger.Error("scheduled fire with unregistered callback",
			zap.String("id", row.ID), zap.String("callback", row.Callback), zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("schedule callback panicked",
				zap.String("id", row.ID), zap.String("callback", row.Callback),
				zap.Any("recover", r))
			s.recordFire(row.Callback, "panic")
		}
	}()

	if err := fn(ctx, []byte(row.Payload), row); err != nil {
		s.logger.Error("schedule callback failed",
			zap.String("id", row.ID), zap.String("callback", row.Callback), zap.Error(err))
		s.recordFire(row.Callback, "error")
		return
	}
	s.recordFire(row.Callback, "ok")
}

func (s *Scheduler) recordFire(callback, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SchedulerFires.WithLabelValues(callback, outcome).Inc()
}
