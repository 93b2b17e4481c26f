package commandqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_Seen(t *testing.T) {
	cache := newDedupCache(context.Background(), time.Minute)
	defer cache.Stop()

	assert.False(t, cache.Seen("a"))
	assert.True(t, cache.Seen("a"))
	assert.False(t, cache.Seen("b"))
	assert.Equal(t, 2, cache.Size())
}

func TestDedupCache_Expiry(t *testing.T) {
	cache := newDedupCache(context.Background(), 20*time.Millisecond)
	defer cache.Stop()

	assert.False(t, cache.Seen("a"))
	time.Sleep(40 * time.Millisecond)
	assert.False(t, cache.Seen("a"), "expired ids may run again")
}

func TestDedupCache_Cleanup(t *testing.T) {
	cache := newDedupCache(context.Background(), 10*time.Millisecond)
	defer cache.Stop()

	cache.Seen("a")
	assert.Eventually(t, func() bool { return cache.Size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDedupCache_Shutdown(t *testing.T) {
	cache := newDedupCache(context.Background(), 50*time.Millisecond)
	cache.Stop()

	select {
	case <-cache.done:
		// ok
	case <-time.After(1 * time.Second):
		t.Fatalf("dedup cache cleanup did not stop within timeout")
	}
}
