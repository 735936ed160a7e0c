package lockqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPush_SerializesSameKey(t *testing.T) {
	t.Parallel()

	q := New()
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Push("repo-a", func() error {
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Stagger launches so submission order is well defined.
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPush_DistinctKeysRunConcurrently(t *testing.T) {
	t.Parallel()

	q := New()
	var inFlight int32
	var maxInFlight int32
	var mu sync.Mutex

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Push(key, func() error {
				n := atomic.AddInt32(&inFlight, 1)
				mu.Lock()
				if n > maxInFlight {
					maxInFlight = n
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Greater(t, maxInFlight, int32(1))
}

func TestPush_ReturnsTaskError(t *testing.T) {
	t.Parallel()

	q := New()
	err := q.Push("key", func() error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	// A prior failing task must not jam the key for subsequent tasks.
	ran := false
	err = q.Push("key", func() error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)
}
