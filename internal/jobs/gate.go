package jobs

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting admission control bounding simultaneous heavy
// operations of one workload class. Parsing and archive extraction each get
// an independent gate so neither class can starve the other.
type Gate struct {
	sem   *semaphore.Weighted
	width int
}

// NewGate creates a gate admitting width concurrent holders. Width below 1
// is clamped to 1.
func NewGate(width int) *Gate {
	if width < 1 {
		width = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(width)), width: width}
}

// Acquire blocks until admitted or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire admits without blocking, reporting success.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns one admission slot.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Width returns the configured admission width.
func (g *Gate) Width() int {
	return g.width
}
