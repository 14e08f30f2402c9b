package turn

import (
	"slices"
	"sync"
)

// Value is a last-write-wins channel. Only one writer per turn is expected;
// a later write replaces an earlier one. Safe for concurrent use.
type Value[T any] struct {
	mu  sync.RWMutex
	v   T
	set bool
}

// Write replaces the current value.
func (c *Value[T]) Write(v T) {
	c.mu.Lock()
	c.v, c.set = v, true
	c.mu.Unlock()
}

// Get returns the current value and whether it was ever written.
func (c *Value[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v, c.set
}

// Load returns the current value, or the zero value when unwritten.
func (c *Value[T]) Load() T {
	v, _ := c.Get()
	return v
}

// Append is an accumulating channel: every write is concatenated to the list,
// never overwritten. Concatenation is the only merge, so the set of elements
// is the same whatever the order of concurrent writers. Safe for concurrent use.
type Append[T any] struct {
	mu    sync.RWMutex
	items []T
}

// Write appends items to the channel.
func (c *Append[T]) Write(items ...T) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	c.items = append(c.items, items...)
	c.mu.Unlock()
}

// Load returns a copy of everything written so far, in arrival order.
func (c *Append[T]) Load() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

// Len returns the number of accumulated items.
func (c *Append[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
