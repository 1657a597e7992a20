package queue

import (
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFO(t *testing.T) {
	t.Parallel()

	q := New[int]()
	for i := 0; i < 10; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 10, q.Len())

	for i := 0; i < 10; i++ {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, got)
	}
	assert.True(t, q.IsEmpty())
}

func TestTryPopEmpty(t *testing.T) {
	t.Parallel()

	q := New[string]()
	assert.True(t, q.IsEmpty())

	got, ok := q.TryPop()
	assert.False(t, ok)
	assert.Equal(t, "", got)
}

func TestCompactionKeepsOrder(t *testing.T) {
	t.Parallel()

	q := New[int]()
	next := 0
	want := 0
	// Interleave pushes and pops so the head index crosses the compaction
	// threshold several times while items remain queued.
	for round := 0; round < 50; round++ {
		for i := 0; i < 100; i++ {
			q.Push(next)
			next++
		}
		for i := 0; i < 90; i++ {
			got, ok := q.TryPop()
			require.True(t, ok)
			require.Equal(t, want, got)
			want++
		}
	}
	for {
		got, ok := q.TryPop()
		if !ok {
			break
		}
		require.Equal(t, want, got)
		want++
	}
	assert.Equal(t, next, want)
}

func TestPopBlockingWaitsForPush(t *testing.T) {
	t.Parallel()

	q := New[int]()
	got := make(chan int, 1)
	go func() {
		v, ok := q.PopBlocking()
		if ok {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("PopBlocking returned before any push")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("PopBlocking did not wake up after push")
	}
}

func TestCloseWakesConsumers(t *testing.T) {
	t.Parallel()

	q := New[int]()
	const waiters = 4

	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			_, ok := q.PopBlocking()
			assert.False(t, ok)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not wake blocked consumers")
	}

	assert.False(t, q.Push(1), "push after close must be rejected")
}

func TestCloseDrainsRemaining(t *testing.T) {
	t.Parallel()

	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Close()

	v, ok := q.PopBlocking()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = q.PopBlocking()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = q.PopBlocking()
	assert.False(t, ok)
}

type item struct {
	producer int
	seq      int
}

// TestConcurrentProducersSingleConsumer checks that randomized interleavings
// of many producers against one polling consumer never lose, duplicate or
// reorder items.
func TestConcurrentProducersSingleConsumer(t *testing.T) {
	t.Parallel()

	for trial := 0; trial < 20; trial++ {
		seed := time.Now().UnixNano() + int64(trial)
		rng := rand.New(rand.NewSource(seed))
		producers := 2 + rng.Intn(8)
		perProducer := 50 + rng.Intn(500)

		q := New[item]()
		var wg sync.WaitGroup
		wg.Add(producers)
		for p := 0; p < producers; p++ {
			pause := rng.Intn(3)
			go func(p int) {
				defer wg.Done()
				for s := 0; s < perProducer; s++ {
					q.Push(item{producer: p, seq: s})
					if pause > 0 && s%pause == 0 {
						runtime.Gosched()
					}
				}
			}(p)
		}

		produced := make(chan struct{})
		go func() {
			wg.Wait()
			close(produced)
		}()

		next := make([]int, producers)
		total := 0
		finished := false
		for !finished || !q.IsEmpty() {
			select {
			case <-produced:
				finished = true
			default:
			}
			if q.IsEmpty() {
				runtime.Gosched()
				continue
			}
			it, ok := q.TryPop()
			require.True(t, ok, "seed %d: TryPop failed after IsEmpty reported work", seed)
			require.Equal(t, next[it.producer], it.seq, "seed %d: producer %d out of order", seed, it.producer)
			next[it.producer]++
			total++
		}

		require.Equal(t, producers*perProducer, total, "seed %d", seed)
		for p, n := range next {
			require.Equal(t, perProducer, n, "seed %d: producer %d", seed, p)
		}
	}
}

func TestConcurrentConsumersNeverDuplicate(t *testing.T) {
	t.Parallel()

	const n = 5000
	q := New[int]()
	for i := 0; i < n; i++ {
		q.Push(i)
	}

	var (
		mu   sync.Mutex
		seen = make(map[int]int, n)
		wg   sync.WaitGroup
	)
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.TryPop()
				if !ok {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for v, count := range seen {
		require.Equal(t, 1, count, "item %d popped %d times", v, count)
	}
}

func BenchmarkPushTryPop(b *testing.B) {
	q := New[int]()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Push(i)
		q.TryPop()
	}
}
