package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int](4)
	for i := range 3 {
		assert.False(t, q.Push(i))
	}
	assert.Equal(t, 3, q.Len())

	for want := range 3 {
		got, ok := q.Poll()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.Poll()
	assert.False(t, ok)
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue[int](3)
	for i := range 10 {
		q.Push(i)
	}
	assert.Equal(t, uint64(7), q.Dropped())

	var got []int
	for {
		v, ok := q.Poll()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got)
}

func TestQueueLatestDrains(t *testing.T) {
	q := NewQueue[string](8)
	_, ok := q.Latest()
	assert.False(t, ok)

	q.Push("a")
	q.Push("b")
	q.Push("c")
	v, ok := q.Latest()
	require.True(t, ok)
	assert.Equal(t, "c", v)
	assert.Zero(t, q.Len())
}

func TestQueueNextWaitsForPush(t *testing.T) {
	q := NewQueue[int](2)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(42)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestQueueNextAfterClose(t *testing.T) {
	q := NewQueue[int](2)
	q.Push(1)
	q.Close()
	assert.False(t, q.Push(2))

	v, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = q.Next(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)

	select {
	case <-q.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestQueueNextContextCancelled(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueuePushNeverBlocks(t *testing.T) {
	q := NewQueue[int](1)
	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				q.Push(p*1000 + i)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producers blocked")
	}
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, uint64(3999), q.Dropped())
}
