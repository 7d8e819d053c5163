// Package utils contains the worker pool, timing and numeric helpers shared by the pipeline.
package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor is the number of workers used when a caller asks for a non-positive pool size.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelMap applies fn to every input using at most workers goroutines and returns the
// outputs in input order. Each call must only touch its own input. A panic in fn is
// recovered and reported as an error; all errors are combined.
func ParallelMap[In, Out any](
	ctx context.Context,
	workers int,
	inputs []In,
	fn func(ctx context.Context, in In) (Out, error),
) ([]Out, error) {
	if workers <= 0 {
		workers = ParallelFactor
	}
	results := make([]Out, len(inputs))
	if workers == 1 {
		var allErrs error
		for i, in := range inputs {
			if err := ctx.Err(); err != nil {
				return results, multierr.Combine(allErrs, err)
			}
			out, err := callRecovering(ctx, fn, in)
			if err != nil {
				allErrs = multierr.Combine(allErrs, err)
				continue
			}
			results[i] = out
		}
		return results, allErrs
	}

	var (
		errMu   sync.Mutex
		allErrs error
	)
	storeError := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		allErrs = multierr.Combine(allErrs, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, in := range inputs {
		i, in := i, in
		group.Go(func() error {
			out, err := callRecovering(groupCtx, fn, in)
			if err != nil {
				storeError(err)
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil && allErrs == nil {
		return results, err
	}
	return results, allErrs
}

func callRecovering[In, Out any](
	ctx context.Context,
	fn func(ctx context.Context, in In) (Out, error),
	in In,
) (out Out, err error) {
	defer func() {
		if thePanic := recover(); thePanic != nil {
			err = fmt.Errorf("got panic running something in parallel: %v", thePanic)
		}
	}()
	return fn(ctx, in)
}
