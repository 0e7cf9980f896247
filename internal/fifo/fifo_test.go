package fifo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()
	q := New[int]()
	for i := range 5 {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	for want := range 5 {
		got, ok := q.Pop(context.Background())
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	t.Parallel()
	q := New[string]()
	q.Push("a")
	q.Push("b")
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Push("c"))

	v, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", v)
	v, ok = q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = q.Pop(context.Background())
	assert.False(t, ok)
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()
	q := New[int]()

	got := make(chan int, 1)
	go func() {
		v, _ := q.Pop(context.Background())
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueue_PopHonorsContext(t *testing.T) {
	t.Parallel()
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestQueue_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	t.Parallel()
	q := New[[2]int]()

	const producers, perProducer = 4, 200
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Push([2]int{p, i})
			}
		}()
	}
	wg.Wait()
	q.Close()

	next := make([]int, producers)
	for {
		v, ok := q.Pop(context.Background())
		if !ok {
			break
		}
		assert.Equal(t, next[v[0]], v[1], "producer %d out of order", v[0])
		next[v[0]]++
	}
	for p := range producers {
		assert.Equal(t, perProducer, next[p])
	}
}
