package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow_SeenTwice(t *testing.T) {
	w := NewWindow(10)

	assert.False(t, w.Seen("sig-1"))
	assert.True(t, w.Seen("sig-1"))
	assert.False(t, w.Seen("sig-2"))
	assert.Equal(t, 2, w.Len())
}

func TestWindow_BoundedEviction(t *testing.T) {
	w := NewWindow(4)

	for i := 0; i < 5; i++ {
		assert.False(t, w.Seen(fmt.Sprintf("sig-%d", i)))
	}

	// 5 > 4: the oldest half (2 keys) is dropped.
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, uint64(2), w.Evicted())
	assert.False(t, w.Seen("sig-0"), "evicted key is forgotten")
	assert.True(t, w.Seen("sig-4"), "recent key is kept")

	for i := 0; i < 1000; i++ {
		w.Seen(fmt.Sprintf("bulk-%d", i))
		assert.LessOrEqual(t, w.Len(), 4)
	}
}

func TestWindow_DefaultCapacity(t *testing.T) {
	w := NewWindow(0)
	assert.Equal(t, DefaultCapacity, w.capacity)
}

func TestWindow_Concurrent(t *testing.T) {
	w := NewWindow(100_000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if !w.Seen(fmt.Sprintf("sig-%d", i)) {
					mu.Lock()
					firsts++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, firsts, "each signature is new exactly once")
}
