package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushRejectsDuplicates(t *testing.T) {
	f := New(NewDeduplicator(1000, 0.001), 5)

	assert.True(t, f.Push(&Task{URL: "https://example.com/a", Priority: PriorityNormal}))
	assert.False(t, f.Push(&Task{URL: "https://example.com/a", Priority: PriorityNormal}))
	assert.Equal(t, 1, f.Len())
}

func TestPushRejectsBeyondMaxDepth(t *testing.T) {
	f := New(NewDeduplicator(1000, 0.001), 2)

	assert.True(t, f.Push(&Task{URL: "https://example.com/d2", Depth: 2, Priority: PriorityNormal}))
	assert.False(t, f.Push(&Task{URL: "https://example.com/d3", Depth: 3, Priority: PriorityNormal}))
}

func TestConcurrentPushAdmitsExactlyOnce(t *testing.T) {
	f := New(NewDeduplicator(10000, 0.001), 5)

	const goroutines = 50
	var admitted int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if f.Push(&Task{URL: "https://example.com/contested", Priority: PriorityNormal}) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), admitted, "exactly one concurrent push of the same URL must win")
	assert.Equal(t, 1, f.Len())
}

func TestPopPriorityOrder(t *testing.T) {
	f := New(NewDeduplicator(1000, 0.001), 5)

	f.Push(&Task{URL: "https://example.com/deferred", Priority: PriorityDeferred})
	f.Push(&Task{URL: "https://example.com/normal-1", Priority: PriorityNormal})
	f.Push(&Task{URL: "https://example.com/high", Priority: PriorityHigh})
	f.Push(&Task{URL: "https://example.com/normal-2", Priority: PriorityNormal})

	ctx := context.Background()
	var got []string
	for i := 0; i < 4; i++ {
		task, err := f.Pop(ctx)
		require.NoError(t, err)
		got = append(got, task.URL)
		f.Done()
	}

	// High first, then Normal in FIFO admission order, then Deferred.
	assert.Equal(t, []string{
		"https://example.com/high",
		"https://example.com/normal-1",
		"https://example.com/normal-2",
		"https://example.com/deferred",
	}, got)
}

func TestPopDrainedWhenEmptyAndNoInflight(t *testing.T) {
	f := New(NewDeduplicator(1000, 0.001), 5)

	_, err := f.Pop(context.Background())
	assert.ErrorIs(t, err, ErrDrained)
}

func TestPopBlocksWhileInflight(t *testing.T) {
	f := New(NewDeduplicator(1000, 0.001), 5)
	f.Push(&Task{URL: "https://example.com/only", Priority: PriorityNormal})

	task, err := f.Pop(context.Background())
	require.NoError(t, err)

	// A second Pop must block: the in-flight task may still push successors.
	popDone := make(chan error, 1)
	go func() {
		_, err := f.Pop(context.Background())
		popDone <- err
	}()

	select {
	case <-popDone:
		t.Fatal("Pop returned while a task was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// Finishing the in-flight task with nothing enqueued drains the run.
	_ = task
	f.Done()

	select {
	case err := <-popDone:
		assert.ErrorIs(t, err, ErrDrained)
	case <-time.After(time.Second):
		t.Fatal("Pop did not observe the drained frontier")
	}
}

func TestInflightTaskCanEnqueueSuccessors(t *testing.T) {
	f := New(NewDeduplicator(1000, 0.001), 5)
	f.Push(&Task{URL: "https://example.com/parent", Priority: PriorityNormal})

	parent, err := f.Pop(context.Background())
	require.NoError(t, err)

	popDone := make(chan *Task, 1)
	go func() {
		task, err := f.Pop(context.Background())
		require.NoError(t, err)
		popDone <- task
	}()

	f.Push(&Task{URL: "https://example.com/child", Depth: parent.Depth + 1, Priority: PriorityNormal})
	f.Done()

	select {
	case task := <-popDone:
		assert.Equal(t, "https://example.com/child", task.URL)
	case <-time.After(time.Second):
		t.Fatal("blocked Pop never received the successor task")
	}
}

func TestPopContextCancellation(t *testing.T) {
	f := New(NewDeduplicator(1000, 0.001), 5)
	f.Push(&Task{URL: "https://example.com/held", Priority: PriorityNormal})
	_, err := f.Pop(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	popDone := make(chan error, 1)
	go func() {
		_, err := f.Pop(ctx)
		popDone <- err
	}()

	cancel()
	select {
	case err := <-popDone:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Pop did not observe context cancellation")
	}
}

func TestRequeueBypassesDedup(t *testing.T) {
	f := New(NewDeduplicator(1000, 0.001), 5)
	f.Push(&Task{URL: "https://example.com/flaky", Priority: PriorityNormal})

	task, err := f.Pop(context.Background())
	require.NoError(t, err)

	task.RetryCount++
	task.Priority = PriorityDeferred
	f.Requeue(task)
	f.Done()

	again, err := f.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/flaky", again.URL)
	assert.Equal(t, 1, again.RetryCount)
	f.Done()
}

func TestDeduplicatorAdmit(t *testing.T) {
	d := NewDeduplicator(1000, 0.001)

	assert.True(t, d.Admit("https://example.com/a"))
	assert.False(t, d.Admit("https://example.com/a"))
	assert.True(t, d.Admit("https://example.com/b"))
	assert.True(t, d.Seen("https://example.com/a"))
	assert.False(t, d.Seen("https://example.com/never"))
	assert.Equal(t, 2, d.Len())
}

func TestDeduplicatorConcurrentAdmit(t *testing.T) {
	d := NewDeduplicator(10000, 0.001)

	const urls = 200
	const goroutinesPerURL = 8
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < urls; i++ {
		url := fmt.Sprintf("https://example.com/page-%d", i)
		wg.Add(goroutinesPerURL)
		for g := 0; g < goroutinesPerURL; g++ {
			go func() {
				defer wg.Done()
				if d.Admit(url) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int64(urls), wins, "each URL must be admitted exactly once")
	assert.Equal(t, urls, d.Len())
}
