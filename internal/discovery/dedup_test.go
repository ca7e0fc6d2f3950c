package discovery

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDedupCache_SuppressesWithinWindow(t *testing.T) {
	c := newDedupCache(50 * time.Millisecond)
	id := uuid.New()

	assert.True(t, c.shouldEmit(id))
	assert.False(t, c.shouldEmit(id))
}

func TestDedupCache_ReemitsAfterWindow(t *testing.T) {
	c := newDedupCache(20 * time.Millisecond)
	id := uuid.New()

	assert.True(t, c.shouldEmit(id))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, c.shouldEmit(id))
}

func TestDedupCache_IndependentPerRoom(t *testing.T) {
	c := newDedupCache(50 * time.Millisecond)
	a, b := uuid.New(), uuid.New()

	assert.True(t, c.shouldEmit(a))
	assert.True(t, c.shouldEmit(b))
}

func TestDedupCache_ClearAllowsImmediateReemit(t *testing.T) {
	c := newDedupCache(time.Hour)
	id := uuid.New()

	assert.True(t, c.shouldEmit(id))
	assert.False(t, c.shouldEmit(id))

	c.clear(id)
	assert.True(t, c.shouldEmit(id))
}
