// Package collector funnels submission records from concurrent send workers
// into a single consumer that owns every durable sink.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/austindbirch/relay_load/internal/logging"
	"github.com/austindbirch/relay_load/internal/metrics"
	"github.com/austindbirch/relay_load/internal/record"
)

// ErrChannelClosed is returned by Submit once the collector stopped
// accepting records, either because Close was called or the consumer exited.
var ErrChannelClosed = errors.New("collector channel closed")

// Sink persists records. Sinks are only ever called from the consumer
// goroutine, so implementations need no locking of their own.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec record.Record) error
	Close() error
}

// SavingError reports that the primary sink failed to persist a record. It
// stops the consumer.
type SavingError struct {
	Sink  string
	JobID uint32
	Err   error
}

func (e *SavingError) Error() string {
	return fmt.Sprintf("save job %d to %s: %v", e.JobID, e.Sink, e.Err)
}

func (e *SavingError) Unwrap() error { return e.Err }

type Collector struct {
	ch    chan record.Record
	done  chan struct{} // closed when the consumer exits
	sinks []Sink

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool

	started atomic.Bool
	written atomic.Int64

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates a collector with a bounded intake of the given capacity.
// Records are written to sinks in the order given. The first is the primary
// and the rest are mirrors.
func New(capacity int, logger *logging.Logger, m *metrics.Metrics, sinks ...Sink) *Collector {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.New("collector")
	}
	return &Collector{
		ch:      make(chan record.Record, capacity),
		done:    make(chan struct{}),
		sinks:   sinks,
		logger:  logger,
		metrics: m,
	}
}

// Submit hands rec to the consumer, blocking while the intake is full.
func (c *Collector) Submit(ctx context.Context, rec record.Record) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}

	select {
	case c.ch <- rec:
		c.metrics.SetBacklog(len(c.ch))
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake. Records already accepted are still drained by Run.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Len is the number of records waiting for the consumer
func (c *Collector) Len() int {
	return len(c.ch)
}

// Written is the number of records persisted to the primary sink
func (c *Collector) Written() int64 {
	return c.written.Load()
}

// Run is the single consumer. It returns nil once Close was called and the
// intake is drained, or a *SavingError as soon as the primary sink fails.
// Mirror failures are logged and counted and never stop the primary. Sinks
// are closed on return. Draining continues after ctx is canceled so that
// every accepted record reaches the log.
func (c *Collector) Run(ctx context.Context) (err error) {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("collector already running")
	}
	defer close(c.done)
	defer func() {
		if cerr := c.closeSinks(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx = context.WithoutCancel(ctx)
	for rec := range c.ch {
		c.metrics.SetBacklog(len(c.ch))
		var mirrors []Sink
		if len(c.sinks) > 0 {
			primary := c.sinks[0]
			if werr := primary.Write(ctx, rec); werr != nil {
				serr := &SavingError{Sink: primary.Name(), JobID: rec.JobID, Err: werr}
				c.logger.Plain().WithJob(rec.JobID).WithPayload(rec.FileName).WithError(serr).Error("collector sink failed, stopping")
				return serr
			}
			mirrors = c.sinks[1:]
		}
		c.written.Add(1)
		c.metrics.RecordWritten()

		for _, s := range mirrors {
			if werr := s.Write(ctx, rec); werr != nil {
				c.metrics.RecordMirrorFailure(s.Name())
				c.logger.Plain().WithJob(rec.JobID).WithPayload(rec.FileName).WithField("sink", s.Name()).WithError(werr).Warn("mirror write failed")
			}
		}
		c.logger.Plain().WithJob(rec.JobID).WithPayload(rec.FileName).Debug("record saved")
	}
	return nil
}

func (c *Collector) closeSinks() error {
	var errs []error
	for _, s := range c.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
