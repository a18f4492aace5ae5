package queue

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		q := New[[]byte]()

		assert.True(t, q.Empty())
		assert.Equal(t, 0, q.Len())
		_, ok := q.Pop()
		assert.False(t, ok)
		_, ok = q.Peek()
		assert.False(t, ok)
	})

	t.Run("FIFO", func(t *testing.T) {
		q := New[[]byte]()
		q.Push([]byte{1})
		q.Push([]byte{2, 3})
		assert.Equal(t, 2, q.Len())

		v, ok := q.Peek()
		require.True(t, ok)
		assert.Equal(t, []byte{1}, v)
		assert.Equal(t, 2, q.Len())

		v, ok = q.Pop()
		require.True(t, ok)
		assert.Equal(t, []byte{1}, v)

		v, ok = q.Pop()
		require.True(t, ok)
		assert.Equal(t, []byte{2, 3}, v)

		_, ok = q.Pop()
		assert.False(t, ok)
		assert.True(t, q.Empty())
	})

	t.Run("Reset", func(t *testing.T) {
		q := New[int]()
		q.Push(1)
		q.Push(2)
		q.Reset()

		assert.True(t, q.Empty())
		_, ok := q.Pop()
		assert.False(t, ok)
	})
}

func TestQueue_Concurrent(t *testing.T) {
	const producers, perProducer = 8, 1000

	q := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
			}
		}(p * perProducer)
	}

	var mu sync.Mutex
	got := make([]int, 0, producers*perProducer)
	var cwg sync.WaitGroup
	done := make(chan struct{})
	for c := 0; c < 4; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				v, ok := q.Pop()
				if ok {
					mu.Lock()
					got = append(got, v)
					mu.Unlock()

					continue
				}
				select {
				case <-done:
					if q.Empty() {
						return
					}
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	cwg.Wait()

	require.Len(t, got, producers*perProducer)
	sort.Ints(got)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}
