// Package poll implements the bounded polling protocol used to wait for
// eventually-consistent deliveries. A check is invoked at a fixed interval
// until it yields evidence or the deadline passes.
//
// The two outcomes are kept distinct: a check that errors aborts at once
// with a RequestFailed failure, while a check that keeps coming back empty
// ends in TimeoutExceeded once the deadline has elapsed.
package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/gurre/trailcheck/failure"
	"github.com/gurre/trailcheck/logging"
)

// Check performs one attempt and returns the evidence it observed.
type Check[T any] func(ctx context.Context) ([]T, error)

// Clock abstracts time so tests can run the protocol without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Options configures a poll.
type Options struct {
	Op       string        // operation name used in logs and failures
	Deadline time.Duration // wall-clock budget measured from the first check
	Interval time.Duration // fixed delay between checks
	Clock    Clock         // defaults to SystemClock
	Logger   *slog.Logger  // defaults to slog.Default()
}

// Result describes a successful poll.
type Result[T any] struct {
	Items    []T           // evidence from the successful check only
	Attempts int           // number of checks performed
	Elapsed  time.Duration // time from start to the successful check
}

// NonEmpty is the default evidence predicate.
func NonEmpty[T any](items []T) bool { return len(items) > 0 }

// Until polls check until found reports true, the check fails, or the
// deadline passes. The first check always runs. On failure the returned
// Result still carries the attempt count and elapsed time.
func Until[T any](ctx context.Context, opts Options, check Check[T], found func([]T) bool) (Result[T], error) {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	if found == nil {
		found = NonEmpty[T]
	}
	logger := logging.OrDefault(opts.Logger).With("op", opts.Op)

	start := clock.Now()
	var res Result[T]
	for {
		res.Attempts++
		logger.Info("checking", "attempt", res.Attempts, "elapsed", clock.Now().Sub(start).Round(time.Second))

		items, err := check(ctx)
		res.Elapsed = clock.Now().Sub(start)
		if err != nil {
			return res, failure.Request(opts.Op, err)
		}
		if found(items) {
			res.Items = items
			logger.Info("evidence found", "attempt", res.Attempts, "items", len(items))
			return res, nil
		}

		logger.Info("no evidence yet", "retry_in", opts.Interval)
		select {
		case <-clock.After(opts.Interval):
		case <-ctx.Done():
			return res, failure.Request(opts.Op, ctx.Err())
		}

		res.Elapsed = clock.Now().Sub(start)
		if res.Elapsed >= opts.Deadline {
			return res, failure.Timeout(opts.Op, opts.Deadline)
		}
	}
}
