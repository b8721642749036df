package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arkeep-io/agenthost/internal/instancedb"
)

// ScheduleTask fires callback once, delaySeconds from now, passing payload.
// The row is deleted once it fires (§4.6).
func (s *Scheduler) ScheduleTask(ctx context.Context, callback string, delaySeconds int64, payload json.RawMessage) (string, error) {
	if _, err := s.lookupCallback(callback); err != nil {
		return "", err
	}
	fireAt := time.Now().Add(time.Duration(delaySeconds) * time.Second)
	row := instancedb.Schedule{
		ID:        uuid.NewString(),
		Callback:  callback,
		Type:      instancedb.ScheduleOnce,
		Time:      &fireAt,
		Payload:   rawOrEmptyObject(payload),
		CreatedAt: time.Now(),
	}
	return row.ID, s.persistAndSchedule(ctx, row)
}

// ScheduleRecurring fires callback every intervalSeconds, indefinitely,
// until CancelTask removes it.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, callback string, intervalSeconds int64, payload json.RawMessage) (string, error) {
	if _, err := s.lookupCallback(callback); err != nil {
		return "", err
	}
	next := time.Now().Add(time.Duration(intervalSeconds) * time.Second)
	row := instancedb.Schedule{
		ID:              uuid.NewString(),
		Callback:        callback,
		Type:            instancedb.ScheduleInterval,
		Time:            &next,
		IntervalSeconds: &intervalSeconds,
		Payload:         rawOrEmptyObject(payload),
		CreatedAt:       time.Now(),
	}
	return row.ID, s.persistAndSchedule(ctx, row)
}

// ScheduleCron fires callback on every match of cronExpr (standard 5-field
// cron), in singleton mode so overlapping fires are rescheduled rather than
// run concurrently.
func (s *Scheduler) ScheduleCron(ctx context.Context, callback string, cronExpr string, payload json.RawMessage) (string, error) {
	if _, err := s.lookupCallback(callback); err != nil {
		return "", err
	}
	row := instancedb.Schedule{
		ID:        uuid.NewString(),
		Callback:  callback,
		Type:      instancedb.ScheduleCron,
		Cron:      &cronExpr,
		Payload:   rawOrEmptyObject(payload),
		CreatedAt: time.Now(),
	}
	return row.ID, s.persistAndSchedule(ctx, row)
}

// ListSchedules returns every durable row owned by this instance.
func (s *Scheduler) ListSchedules(ctx context.Context) ([]instancedb.Schedule, error) {
	var rows []instancedb.Schedule
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scheduler: failed to list schedules: %w", err)
	}
	return rows, nil
}

// CancelTask removes a schedule row, pulling its gocron job if the
// scheduler is already running. Idempotent: cancelling an unknown id is a
// no-op, matching the teacher's RemovePolicy semantics.
func (s *Scheduler) CancelTask(ctx context.Context, id string) error {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok {
		_ = s.cron.RemoveJob(job.ID())
		delete(s.jobs, id)
	} else {
		s.cron.RemoveByTags(id)
	}
	s.mu.Unlock()

	if err := s.db.WithContext(ctx).Delete(&instancedb.Schedule{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("scheduler: failed to delete schedule %s: %w", id, err)
	}
	return nil
}

// persistAndSchedule writes row to the schedules table and, if the
// scheduler has already Start-ed, registers it with gocron immediately —
// schedule calls made before Start are picked up by Start's own load.
func (s *Scheduler) persistAndSchedule(ctx context.Context, row instancedb.Schedule) error {
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("scheduler: failed to persist schedule %s: %w", row.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	if err := s.addJobLocked(row); err != nil {
		return err
	}
	return nil
}

func rawOrEmptyObject(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "{}"
	}
	return string(payload)
}
