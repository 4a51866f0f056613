// Package workers runs independent per-node or per-timestamp jobs on a bounded pool.
package workers

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Size resolves a configured worker count; zero or negative means one per CPU.
func Size(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// Each calls fn(ctx, i) for i in [0, n) with at most workers calls in flight.
// The first error cancels ctx for the remaining jobs and is returned.
// fn must only write to state owned by index i.
func Each(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Size(workers))
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
