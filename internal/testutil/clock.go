package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a fresh StepClock.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// StepClock is a deterministic wall clock for tests.
//
// Each call to Now returns the previous instant plus a fixed step, so the
// same scenario always stamps the same createdAt/updatedAt/exportedAt values.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	n    int64
}

// NewStepClock returns a clock starting at Epoch. A zero step freezes time.
func NewStepClock(step time.Duration) *StepClock {
	return &StepClock{base: Epoch, step: step}
}

// Now returns the current instant and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Calls returns how many times Now has been called.
func (c *StepClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock to Epoch.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}

// FixedIDGenerator returns the same run id every time.
//
// If id is empty, Generate returns "test-run-default".
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a fixed run id generator.
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
