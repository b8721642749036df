package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/instancedb"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := instancedb.Open(instancedb.Config{
		DataDir:   t.TempDir(),
		Namespace: "agent",
		Name:      "sched",
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { instancedb.Close(db) })
	return db
}

func newTestScheduler(t *testing.T, db *gorm.DB) *Scheduler {
	t.Helper()
	s, err := New(db, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestScheduleTaskRejectsUnregisteredCallback(t *testing.T) {
	s := newTestScheduler(t, newTestDB(t))
	_, err := s.ScheduleTask(context.Background(), "missing", 10, nil)
	assert.Equal(t, agenterr.NotFound, agenterr.KindOf(err))
}

func TestScheduleTaskPersistsRowBeforeStart(t *testing.T) {
	db := newTestDB(t)
	s := newTestScheduler(t, db)
	s.RegisterCallback("noop", func(context.Context, []byte, instancedb.Schedule) error { return nil })

	id, err := s.ScheduleTask(context.Background(), "noop", 60, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	rows, err := s.ListSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
	assert.Equal(t, instancedb.ScheduleOnce, rows[0].Type)
	assert.JSONEq(t, `{"a":1}`, rows[0].Payload)
}

func TestScheduleRecurringAndCronPersistCorrectTypes(t *testing.T) {
	db := newTestDB(t)
	s := newTestScheduler(t, db)
	s.RegisterCallback("noop", func(context.Context, []byte, instancedb.Schedule) error { return nil })

	recID, err := s.ScheduleRecurring(context.Background(), "noop", 30, nil)
	require.NoError(t, err)
	cronID, err := s.ScheduleCron(context.Background(), "noop", "*/5 * * * *", nil)
	require.NoError(t, err)

	rows, err := s.ListSchedules(context.Background())
	require.NoError(t, err)
	byID := map[string]instancedb.Schedule{}
	for _, r := range rows {
		byID[r.ID] = r
	}
	assert.Equal(t, instancedb.ScheduleInterval, byID[recID].Type)
	require.NotNil(t, byID[recID].IntervalSeconds)
	assert.EqualValues(t, 30, *byID[recID].IntervalSeconds)

	assert.Equal(t, instancedb.ScheduleCron, byID[cronID].Type)
	require.NotNil(t, byID[cronID].Cron)
	assert.Equal(t, "*/5 * * * *", *byID[cronID].Cron)
}

func TestCancelTaskRemovesRowAndIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	s := newTestScheduler(t, db)
	s.RegisterCallback("noop", func(context.Context, []byte, instancedb.Schedule) error { return nil })

	id, err := s.ScheduleTask(context.Background(), "noop", 60, nil)
	require.NoError(t, err)

	require.NoError(t, s.CancelTask(context.Background(), id))
	rows, err := s.ListSchedules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, s.CancelTask(context.Background(), id))
	require.NoError(t, s.CancelTask(context.Background(), "never-existed"))
}

func TestStartLoadsPersistedRowsAndFiresOneShot(t *testing.T) {
	db := newTestDB(t)
	s := newTestScheduler(t, db)

	fired := make(chan string, 1)
	s.RegisterCallback("notify", func(_ context.Context, payload []byte, sched instancedb.Schedule) error {
		fired <- sched.ID
		return nil
	})

	id, err := s.ScheduleTask(context.Background(), "notify", 0, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	select {
	case gotID := <-fired:
		assert.Equal(t, id, gotID)
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
	}

	require.Eventually(t, func() bool {
		rows, err := s.ListSchedules(context.Background())
		return err == nil && len(rows) == 0
	}, 2*time.Second, 20*time.Millisecond, "one-shot row should be deleted after firing")
}

func TestPanickingCallbackDoesNotCancelSchedule(t *testing.T) {
	db := newTestDB(t)
	s := newTestScheduler(t, db)

	calls := make(chan struct{}, 2)
	s.RegisterCallback("panicky", func(context.Context, []byte, instancedb.Schedule) error {
		calls <- struct{}{}
		panic("boom")
	})

	one := int64(1)
	row := instancedb.Schedule{ID: "job-1", Callback: "panicky", Type: instancedb.ScheduleInterval, IntervalSeconds: &one}
	require.NoError(t, db.Create(&row).Error)

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("panicking callback never invoked")
	}

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("schedule was cancelled after panicking callback fired once")
	}
}

func TestStopIsIdempotentWhenNeverStarted(t *testing.T) {
	s := newTestScheduler(t, newTestDB(t))
	assert.NoError(t, s.Stop())
}
