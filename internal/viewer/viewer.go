// Package viewer replays a result log against the relayer's job status
// endpoint and publishes the observed latencies in batches.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/austindbirch/relay_load/internal/logging"
	"github.com/austindbirch/relay_load/internal/metrics"
	"github.com/austindbirch/relay_load/internal/record"
	"github.com/austindbirch/relay_load/internal/relayer"
	"github.com/austindbirch/relay_load/internal/tracing"
)

// StatusClient looks up a relayer job
type StatusClient interface {
	JobStatus(ctx context.Context, jobID uint32) (relayer.JobStatus, error)
}

// Pusher publishes the current metric state
type Pusher interface {
	Push(ctx context.Context) error
}

type Summary struct {
	Records    int // log lines read
	Samples    int // latencies observed
	Pending    int // jobs without elapsed yet
	PollErrors int
	Pushes     int
}

type Publisher struct {
	client    StatusClient
	pusher    Pusher
	metrics   *metrics.Metrics
	batchSize int
	limiter   *rate.Limiter
	logger    *logging.Logger
}

type Option func(*Publisher)

// WithPollRate caps job status polls per second. rps <= 0 means unlimited.
func WithPollRate(rps float64) Option {
	return func(p *Publisher) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

func New(client StatusClient, pusher Pusher, m *metrics.Metrics, batchSize int, opts ...Option) *Publisher {
	if batchSize <= 0 {
		batchSize = 1
	}
	p := &Publisher{
		client:    client,
		pusher:    pusher,
		metrics:   m,
		batchSize: batchSize,
		logger:    logging.New("viewer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish reads log sequentially and polls each job in file order. Every
// batchSize latencies are observed into the histogram and pushed; the
// remainder is pushed at end of log. A malformed line aborts with a
// *record.SerializationError after the samples gathered so far are pushed.
func (p *Publisher) Publish(ctx context.Context, log io.Reader) (Summary, error) {
	var sum Summary
	batch := make([]float64, 0, p.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, s := range batch {
			p.metrics.ObserveElapsed(s)
		}
		if err := p.pusher.Push(ctx); err != nil {
			return err
		}
		sum.Pushes++
		sum.Samples += len(batch)
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"samples": len(batch),
			"push":    sum.Pushes,
		}).Info("batch pushed")
		batch = batch[:0]
		return nil
	}

	r := record.NewReader(log)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ferr := flush(); ferr != nil {
				return sum, errors.Join(err, ferr)
			}
			return sum, err
		}
		sum.Records++

		elapsed, ok, err := p.poll(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.PollErrors++
			continue
		}
		if !ok {
			sum.Pending++
			continue
		}

		batch = append(batch, elapsed)
		if len(batch) == p.batchSize {
			if err := flush(); err != nil {
				return sum, err
			}
		}
	}

	if err := flush(); err != nil {
		return sum, err
	}
	return sum, nil
}

// poll returns the job's elapsed time in seconds, or ok=false while the job
// has not finished.
func (p *Publisher) poll(ctx context.Context, rec record.Record) (float64, bool, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, false, err
		}
	}

	ctx, span := tracing.StartSpan(ctx, "relayload.poll",
		attribute.Int64("job_id", int64(rec.JobID)),
		attribute.String("payload_id", rec.FileName),
	)
	defer span.End()

	st, err := p.client.JobStatus(ctx, rec.JobID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		p.logger.WithContext(ctx).WithJob(rec.JobID).WithPayload(rec.FileName).WithError(err).Warn("job status poll failed")
		return 0, false, fmt.Errorf("poll job %d: %w", rec.JobID, err)
	}

	p.metrics.RecordJobState(st.State)
	span.SetAttributes(attribute.String("job_state", st.State))
	if st.Elapsed == nil {
		p.logger.WithContext(ctx).WithJob(rec.JobID).WithField("state", st.State).Debug("job still pending")
		return 0, false, nil
	}
	return float64(*st.Elapsed) / 1000, true, nil
}
