// Package dispatch admits payloads at a controlled rate and runs one send
// worker per admitted payload.
package dispatch

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/austindbirch/relay_load/internal/logging"
	"github.com/austindbirch/relay_load/internal/metrics"
	"github.com/austindbirch/relay_load/internal/payload"
)

type Options struct {
	Limit   int // admissions, 0 = until the source is exhausted
	Threads int // max sends in flight
}

// Summary counts what happened to every admitted slot.
type Summary struct {
	Admitted   int // slots consumed, read errors included
	Submitted  int // accepted by the relayer and handed to the collector
	Rejected   int // non-200 responses
	Failed     int // transport errors, timeouts, unreadable 200 bodies
	ReadErrors int
	Duration   time.Duration
}

type Dispatcher struct {
	source  payload.Source
	pacer   Pacer
	worker  *Worker
	opts    Options
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func New(source payload.Source, pacer Pacer, worker *Worker, opts Options, logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if logger == nil {
		logger = logging.New("dispatch")
	}
	return &Dispatcher{
		source:  source,
		pacer:   pacer,
		worker:  worker,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// Run admits payloads until the limit is reached, the source is exhausted or
// ctx is done, then waits for every in-flight send before returning. Admission
// does not wait for sends to finish beyond the Threads budget.
//
// The returned error is ctx's error when the run was stopped, or the first
// error that made the collector unreachable. Per-payload failures are only
// counted.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	var submitted, rejected, failed atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Threads)

	for d.opts.Limit == 0 || sum.Admitted < d.opts.Limit {
		if err := d.pacer.Wait(gctx); err != nil {
			break
		}
		p, err := d.source.Next(gctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			sum.Admitted++
			sum.ReadErrors++
			d.metrics.RecordSubmission(metrics.OutcomeReadError, 0)
			d.logger.WithContext(gctx).WithError(err).Warn("payload unavailable, slot skipped")
			continue
		}
		sum.Admitted++

		g.Go(func() error {
			outcome, err := d.worker.Send(gctx, p)
			switch outcome {
			case metrics.OutcomeAccepted:
				if err == nil {
					submitted.Add(1)
				} else {
					failed.Add(1)
				}
			case metrics.OutcomeRejected:
				rejected.Add(1)
			default:
				failed.Add(1)
			}
			return err
		})
	}

	werr := g.Wait()
	sum.Submitted = int(submitted.Load())
	sum.Rejected = int(rejected.Load())
	sum.Failed = int(failed.Load())
	sum.Duration = time.Since(start)

	d.logger.Plain().WithFields(map[string]any{
		"admitted":    sum.Admitted,
		"submitted":   sum.Submitted,
		"rejected":    sum.Rejected,
		"failed":      sum.Failed,
		"read_errors": sum.ReadErrors,
		"duration_ms": sum.Duration.Milliseconds(),
	}).Info("dispatch finished")

	if werr != nil {
		return sum, werr
	}
	return sum, ctx.Err()
}
