package backend

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/marmos91/dittostore/internal/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the per-subset parallelism when a backend does not set one.
const DefaultWorkers = 4

// ForEach calls fn for every item on at most workers goroutines and waits for
// all of them. Items are isolated from each other: a panic in fn is recovered
// and handed to onPanic (wrapping ErrPanic) so the item can still be reported,
// and processing of the remaining items continues.
//
// fn is responsible for reporting its item. Items are not skipped when ctx is
// cancelled: fn sees the cancelled context and reports the failure itself.
func ForEach[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T), onPanic func(item T, err error)) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("Recovered panic in backend worker: %v\n%s", p, debug.Stack())
					onPanic(item, fmt.Errorf("%w: %v", ErrPanic, p))
				}
			}()
			fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
}
