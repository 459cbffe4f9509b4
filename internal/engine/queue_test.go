package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskFor(id string, seq int64) *Task {
	return newTask(Handle{ID: id, Seq: seq}, "LinesAdd")
}

func TestResolutionQueue_FIFO(t *testing.T) {
	q := newResolutionQueue()
	for i, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(resolution{task: taskFor(id, int64(i+1))}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		r, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, r.task.ID())
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestResolutionQueue_SignalOnEnqueue(t *testing.T) {
	q := newResolutionQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(resolution{task: taskFor("A", 1)})
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("no signal")
	}
	_, ok := q.TryDequeue()
	assert.True(t, ok)
}

func TestResolutionQueue_Close(t *testing.T) {
	q := newResolutionQueue()
	q.Enqueue(resolution{task: taskFor("A", 1)})
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(resolution{task: taskFor("B", 2)}))
	assert.False(t, q.Drained(), "closed but not empty")

	_, ok := q.TryDequeue()
	require.True(t, ok)
	assert.True(t, q.Drained())

	select {
	case <-q.Wait():
	default:
		t.Fatal("closed queue should wake waiters")
	}
}

func TestResolutionQueue_StaleSignalIsNotClose(t *testing.T) {
	q := newResolutionQueue()
	q.Enqueue(resolution{task: taskFor("A", 1)})
	q.Enqueue(resolution{task: taskFor("B", 2)})
	q.TryDequeue()
	q.TryDequeue()

	<-q.Wait()
	assert.False(t, q.Drained())
}
