package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// All runs every task in its own goroutine and waits for all of them. The
// context passed to the tasks is cancelled as soon as one fails; the first
// error is returned.
func All(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		group.Go(func() error {
			return task(gctx)
		})
	}
	return group.Wait()
}

// Map applies mapFn to each element in parallel, preserving order. The
// workers parameter bounds the number of goroutines; zero or less means one
// goroutine per element.
func Map[T any, R any](ctx context.Context, in []T, workers int, mapFn func(ctx context.Context, value T) (R, error)) ([]R, error) {
	out := make([]R, len(in))
	group, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		group.SetLimit(workers)
	}

	for idx, val := range in {
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := mapFn(gctx, val)
			if err != nil {
				return err
			}
			out[idx] = res
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
