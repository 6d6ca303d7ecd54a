package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scizoninc/scizonai/pkg/logger"
)

func TestJobRunTaskRoundTrip(t *testing.T) {
	task := NewJobRunTask("abc")
	data, err := json.Marshal(task)
	require.NoError(t, err)

	decoded, err := DecodeTask(data)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeJobRun, decoded.Type)
	assert.Equal(t, "abc", decoded.JobID())
	assert.Equal(t, "default", QueueName(decoded.Priority))
}

func TestLocalQueueRunsTasks(t *testing.T) {
	log := logger.NewTestLogger()
	q := NewLocalQueue(2, log)

	var mu sync.Mutex
	seen := map[string]bool{}
	q.Handle(TaskTypeJobRun, func(ctx context.Context, task *Task) error {
		mu.Lock()
		seen[task.JobID()] = true
		mu.Unlock()
		if task.JobID() == "bad" {
			return errors.New("boom")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	for _, id := range []string{"a", "b", "c", "bad"} {
		require.NoError(t, q.Enqueue(ctx, NewJobRunTask(id)))
	}
	cancel()
	q.Wait()

	assert.Len(t, seen, 4)
	assert.Equal(t, 1, log.Count("ERROR", "Task failed"))
}

func TestLocalQueueBoundsConcurrency(t *testing.T) {
	q := NewLocalQueue(1, nil)
	var running, peak int32
	block := make(chan struct{})
	q.Handle("t", func(context.Context, *Task) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-block
		atomic.AddInt32(&running, -1)
		return nil
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), &Task{Type: "t"}))
	}
	close(block)
	require.NoError(t, q.Close())
	assert.Equal(t, int32(1), peak)
}

func TestLocalQueueRejects(t *testing.T) {
	q := NewLocalQueue(1, nil)
	assert.Error(t, q.Enqueue(context.Background(), &Task{Type: "unknown"}))
	require.NoError(t, q.Close())
	q.Handle("t", func(context.Context, *Task) error { return nil })
	assert.ErrorIs(t, q.Enqueue(context.Background(), &Task{Type: "t"}), ErrQueueClosed)
}
