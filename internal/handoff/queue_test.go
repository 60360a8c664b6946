package handoff

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleProducerOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	for i := 0; i < 100; i++ {
		item, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, item)
	}

	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestLenAfterPushesAndPops(t *testing.T) {
	q := New[string]()
	for i := 0; i < 10; i++ {
		q.Push("item")
	}
	for i := 0; i < 4; i++ {
		_, ok := q.TryPop()
		require.True(t, ok)
	}

	assert.Equal(t, 6, q.Len())
	assert.False(t, q.Empty())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[int]()
	done := make(chan int, 1)

	go func() {
		item, ok := q.Pop()
		if ok {
			done <- item
		}
	}()

	// Give the consumer a moment to block
	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case item := <-done:
		assert.Equal(t, 42, item)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestCloseWakesBlockedConsumer(t *testing.T) {
	q := New[int]()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Close")
	}
}

func TestCloseDrainsRemainingItems(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Close()

	// Items queued before Close are still delivered
	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, item)

	item, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, item)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestPushAfterCloseIsDropped(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Push(1)
	assert.Equal(t, 0, q.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Close()
	assert.True(t, q.Closed())
}

func TestConcurrentProducersPreservePerProducerOrder(t *testing.T) {
	q := New[[2]int]() // [producer, sequence]
	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, q.Len())

	lastSeen := make(map[int]int)
	for p := range lastSeen {
		lastSeen[p] = -1
	}
	for {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		producer, seq := item[0], item[1]
		last, seen := lastSeen[producer]
		if seen {
			require.Greater(t, seq, last, "producer %d out of order", producer)
		}
		lastSeen[producer] = seq
	}

	for p := 0; p < producers; p++ {
		assert.Equal(t, perProducer-1, lastSeen[p])
	}
}
