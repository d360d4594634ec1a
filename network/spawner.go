package network

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Spawner runs one inbound connection handler. Spawn returns an error when
// the task was not started; the caller still owns whatever the task would
// have released.
type Spawner interface {
	Spawn(ctx context.Context, task func()) error
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, task func()) error

// Spawn calls f(ctx, task).
func (f SpawnerFunc) Spawn(ctx context.Context, task func()) error {
	return f(ctx, task)
}

// GoSpawner starts every task on its own goroutine with no limit.
type GoSpawner struct{}

// Spawn starts task on a new goroutine.
func (GoSpawner) Spawn(_ context.Context, task func()) error {
	go task()
	return nil
}

// BoundedSpawner caps concurrently running tasks. Spawn blocks the caller
// (the accept loop) while the cap is reached, until ctx ends.
type BoundedSpawner struct {
	sem *semaphore.Weighted
}

// NewBoundedSpawner allows at most limit concurrent tasks.
func NewBoundedSpawner(limit int64) *BoundedSpawner {
	if limit < 1 {
		limit = 1
	}
	return &BoundedSpawner{sem: semaphore.NewWeighted(limit)}
}

// Spawn waits for a free slot and then starts task.
func (b *BoundedSpawner) Spawn(ctx context.Context, task func()) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer b.sem.Release(1)
		task()
	}()
	return nil
}
