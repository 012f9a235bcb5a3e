package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/relay_load/internal/collector"
	"github.com/austindbirch/relay_load/internal/logging"
	"github.com/austindbirch/relay_load/internal/metrics"
	"github.com/austindbirch/relay_load/internal/payload"
	"github.com/austindbirch/relay_load/internal/record"
	"github.com/austindbirch/relay_load/internal/relayer"
	"github.com/austindbirch/relay_load/internal/tracing"
)

// Submitter posts a transaction body and returns the relayer's job id
type Submitter interface {
	Submit(ctx context.Context, body []byte) (uint32, error)
}

// Emitter accepts records for durable storage
type Emitter interface {
	Submit(ctx context.Context, rec record.Record) error
}

// Worker performs exactly one submission attempt per payload. Only an
// accepted submission produces a record.
type Worker struct {
	client  Submitter
	out     Emitter
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewWorker(client Submitter, out Emitter, logger *logging.Logger, m *metrics.Metrics) *Worker {
	if logger == nil {
		logger = logging.New("dispatch")
	}
	return &Worker{client: client, out: out, logger: logger, metrics: m, now: time.Now}
}

// Send submits p once and reports the outcome. Per-unit failures are logged
// and returned as an outcome with a nil error; the error is non-nil only when
// the record of an accepted submission could not be handed to the collector.
func (w *Worker) Send(ctx context.Context, p payload.Payload) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "relayload.send",
		attribute.String("payload_id", p.ID),
		attribute.Int("payload_bytes", len(p.Body)),
	)
	defer span.End()

	start := time.Now()
	jobID, err := w.client.Submit(ctx, p.Body)
	latency := time.Since(start)

	if err != nil {
		tracing.SetSpanError(ctx, err)
		outcome := classify(err)
		w.metrics.RecordSubmission(outcome, latency)

		entry := w.logger.WithContext(ctx).WithPayload(p.ID).WithError(err)
		var nok *relayer.NonOKError
		if errors.As(err, &nok) {
			entry.WithFields(map[string]any{"status": nok.Status, "body": nok.Body}).Warn("relayer rejected transaction")
		} else {
			entry.Warn("transaction submission failed")
		}
		return outcome, nil
	}

	span.SetAttributes(attribute.Int64("job_id", int64(jobID)))
	w.metrics.RecordSubmission(metrics.OutcomeAccepted, latency)

	rec := record.New(jobID, p.ID, w.now())
	// the relayer accepted the job; the record must reach the log even if the run is being stopped
	if err := w.out.Submit(context.WithoutCancel(ctx), rec); err != nil {
		tracing.SetSpanError(ctx, err)
		w.logger.WithContext(ctx).WithJob(jobID).WithPayload(p.ID).WithError(err).Error("record lost, collector unavailable")
		return metrics.OutcomeAccepted, fmt.Errorf("emit job %d: %w", jobID, err)
	}

	tracing.AddSpanEvent(ctx, "record.emitted")
	w.logger.WithContext(ctx).WithJob(jobID).WithPayload(p.ID).WithField("latency_ms", latency.Milliseconds()).Debug("transaction accepted")
	return metrics.OutcomeAccepted, nil
}

func classify(err error) string {
	var (
		nok  *relayer.NonOKError
		derr *relayer.DecodeError
	)
	switch {
	case errors.As(err, &nok):
		return metrics.OutcomeRejected
	case errors.As(err, &derr):
		return metrics.OutcomeMalformed
	default:
		return metrics.OutcomeFailed
	}
}

var _ Emitter = (*collector.Collector)(nil)
var _ Submitter = (*relayer.Client)(nil)
