package testutil

import (
	"strconv"
	"sync"
	"time"
)

// DeterministicClock is a thread-safe clock that advances one second per
// reading, starting at a fixed instant.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	ticks int64
}

// Epoch is the first instant a fresh DeterministicClock reports.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewDeterministicClock returns a clock whose first Now is Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{start: Epoch}
}

// Now returns the next instant.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.ticks) * time.Second)
	c.ticks++
	return t
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}

// SequentialIDs returns run ids "run-1", "run-2", ... for golden output.
type SequentialIDs struct {
	mu sync.Mutex
	n  int
}

// NewID returns the next id.
func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "run-" + strconv.Itoa(g.n)
}
