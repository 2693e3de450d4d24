package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/shpitdev/character-image-enricher/pkg/pipeline/core"
	"golang.org/x/time/rate"
)

const DefaultWorkers = 10

type Options struct {
	Workers int

	// RateLimitRPS limits task starts across all workers. Set to <=0 to disable.
	RateLimitRPS float64
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Index  int
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// ProcessAll runs the processor over all input items.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback runs the processor over all input items and invokes onResult
// as each item completes. The callback receives completion-order results and is never
// called concurrently.
//
// A processor that returns an error or panics does not stop the run: the failure is
// reported on that item's Result as a *core.TaskError. The run stops early only when
// ctx is cancelled or onResult returns an error; items that never started are then
// absent from the callback and zero-valued in the returned slice. Items that were
// already running still complete and reach onResult unless it has failed.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	out := make([]Result[In, Out], len(items))

	type job struct {
		idx int
		in  In
	}

	jobs := make(chan job)
	done := make(chan Result[In, Out], opts.Workers)

	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	workerFn := func() {
		defer wg.Done()
		for j := range jobs {
			if runCtx.Err() != nil {
				return
			}
			if limiter != nil {
				if err := limiter.Wait(runCtx); err != nil {
					return
				}
			}
			// The collector drains done until it is closed, so a finished result is
			// always delivered, even after cancellation.
			done <- processOne(runCtx, j.idx, j.in, processor)
		}
	}

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go workerFn()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	stopped := false
	for res := range done {
		out[res.Index] = res
		if onResult != nil && !stopped {
			if err := onResult(res); err != nil {
				stopped = true
				fail(err)
			}
		}
	}

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func processOne[In any, Out any](
	ctx context.Context,
	idx int,
	item In,
	processor func(context.Context, In) (Out, error),
) (res Result[In, Out]) {
	res = Result[In, Out]{Index: idx, Input: item}
	defer func() {
		if r := recover(); r != nil {
			res.Err = &core.TaskError{Err: fmt.Errorf("%v", r), Panicked: true}
		}
	}()

	out, err := processor(ctx, item)
	res.Output = out
	if err != nil {
		res.Err = &core.TaskError{Err: err}
	}
	return res
}
