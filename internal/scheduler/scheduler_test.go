package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/core"
	"github.com/uplens/uplens/internal/lock/memlock"
	qmemory "github.com/uplens/uplens/internal/queue/memory"
	"github.com/uplens/uplens/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seedTask(t *testing.T, store *memory.Store, id, slot string, status core.TaskStatus) {
	t.Helper()
	require.NoError(t, store.CreateTask(context.Background(), &core.Task{
		ID:       id,
		Name:     "task " + id,
		Keywords: []string{"keyword"},
		Status:   status,
		Schedule: core.TaskSchedule{Type: "daily", Time: slot},
	}))
}

func TestTick_DispatchesDueTasksOnly(t *testing.T) {
	t.Parallel()

	store := memory.New()
	queue := qmemory.NewQueue(8)
	t.Cleanup(queue.Close)
	locks := memlock.New()
	now := time.Date(2026, 8, 30, 9, 0, 30, 0, time.UTC)

	seedTask(t, store, "due", "09:00", core.TaskEnabled)
	seedTask(t, store, "later", "10:30", core.TaskEnabled)
	seedTask(t, store, "disabled", "09:00", core.TaskDisabled)

	s := New(store, queue, locks, fixedClock{now: now}, zap.NewNop(), time.Minute)
	s.tick(context.Background(), now)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "due", req.TaskID)
	require.Equal(t, core.TriggerSchedule, req.Trigger)
	require.Equal(t, now.Unix(), req.Submitted)

	drained, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = queue.Dequeue(drained)
	require.Error(t, err, "only the due task is dispatched")
}

func TestTick_SameSlotDispatchedOnceAcrossReplicas(t *testing.T) {
	t.Parallel()

	store := memory.New()
	queue := qmemory.NewQueue(8)
	t.Cleanup(queue.Close)
	locks := memlock.New() // shared, like a shared Redis
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	seedTask(t, store, "task-1", "09:00", core.TaskEnabled)

	a := New(store, queue, locks, fixedClock{now: now}, zap.NewNop(), time.Minute)
	b := New(store, queue, locks, fixedClock{now: now}, zap.NewNop(), time.Minute)
	a.tick(context.Background(), now)
	b.tick(context.Background(), now)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := queue.Dequeue(ctx)
	require.NoError(t, err)

	drained, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = queue.Dequeue(drained)
	require.Error(t, err, "second replica must lose the slot lock")
}

func TestTick_NextDayIsANewSlot(t *testing.T) {
	t.Parallel()

	store := memory.New()
	queue := qmemory.NewQueue(8)
	t.Cleanup(queue.Close)
	locks := memlock.New()

	seedTask(t, store, "task-1", "09:00", core.TaskEnabled)

	day1 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	s := New(store, queue, locks, fixedClock{now: day1}, zap.NewNop(), time.Minute)
	s.tick(context.Background(), day1)
	s.tick(context.Background(), day2)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := queue.Dequeue(ctx)
		cancel()
		require.NoError(t, err)
	}
}
