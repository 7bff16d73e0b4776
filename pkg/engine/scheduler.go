package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
)

// ErrPoolTooSmall is returned when a query has more drivers than workers.
var ErrPoolTooSmall = errors.New("worker pool too small for query")

// FailureHook is invoked once with the first driver failure of a query,
// while the remaining drivers may still be running. It is where the
// query-scoped cleanup releases readers held by aborted sinks.
type FailureHook func(err error)

// Scheduler runs drivers on a bounded pool of worker goroutines.
//
// A driver occupies its worker until it finishes, and consumer drivers may
// block waiting on producers of the same query, so all drivers of a query
// must fit in the pool at once.
type Scheduler struct {
	pool   *ants.Pool
	logger *slog.Logger
}

// NewScheduler creates a scheduler with the given number of workers.
func NewScheduler(workers int) (*Scheduler, error) {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Scheduler{pool: pool, logger: slog.Default().With("component", "scheduler")}, nil
}

// Workers returns the pool capacity.
func (s *Scheduler) Workers() int { return s.pool.Cap() }

// Release stops the worker pool.
func (s *Scheduler) Release() { s.pool.Release() }

// Run executes drivers concurrently and waits for all of them. The first
// failure cancels the context seen by the others, runs onFailure, and is
// returned.
func (s *Scheduler) Run(ctx context.Context, onFailure FailureHook, drivers ...*Driver) error {
	if len(drivers) > s.pool.Cap() {
		return fmt.Errorf("%d drivers, %d workers: %w", len(drivers), s.pool.Cap(), ErrPoolTooSmall)
	}

	g, gctx := errgroup.WithContext(ctx)
	var (
		once  sync.Once
		first error
	)
	fail := func(err error) {
		once.Do(func() {
			first = err
			s.logger.Error("query failed", "error", err)
			if onFailure != nil {
				onFailure(err)
			}
		})
	}

	for _, d := range drivers {
		g.Go(func() error {
			done := make(chan error, 1)
			task := func() {
				defer func() {
					if r := recover(); r != nil {
						done <- d.fail(fmt.Errorf("panic: %v", r))
					}
				}()
				done <- d.Run(gctx)
			}
			if err := s.pool.Submit(task); err != nil {
				err = fmt.Errorf("submit driver %s: %w", d.ID(), err)
				d.Sink().Abort()
				fail(err)
				return err
			}
			if err := <-done; err != nil {
				fail(err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		once.Do(func() { first = err })
		return first
	}
	return nil
}
