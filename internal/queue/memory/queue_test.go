package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uplens/uplens/internal/core"
)

func TestQueue_EnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	t.Cleanup(q.Close)
	ctx := context.Background()

	req := core.RunRequest{TaskID: "task-1", Trigger: core.TriggerSchedule, Submitted: time.Now().Unix()}
	require.NoError(t, q.Enqueue(ctx, req))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestQueue_DequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	t.Cleanup(q.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	t.Cleanup(q.Close)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, core.RunRequest{TaskID: "a"}))

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(blocked, core.RunRequest{TaskID: "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
