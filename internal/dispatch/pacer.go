package dispatch

import (
	"context"
	"math"
	"time"
)

// Pacer decides when the next unit of work may be admitted. Wait blocks until
// admission is allowed or ctx is done.
type Pacer interface {
	Wait(ctx context.Context) error
}

type clock struct {
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func realClock() clock {
	return clock{now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AccrualPacer admits at an average of tps units per second. The n-th
// admission (counting from zero) waits until n/tps seconds have passed since
// the first one, so admissions are spread evenly instead of arriving in
// bursts. The budget is recomputed from the admission count each time and
// rounded up, so it never drifts below n/tps.
type AccrualPacer struct {
	clock
	tps      float64
	start    time.Time
	admitted int64
}

func NewAccrualPacer(tps float64) *AccrualPacer {
	return &AccrualPacer{clock: realClock(), tps: tps}
}

// budget is the minimum time since the first admission before the n-th
func (p *AccrualPacer) budget(n int64) time.Duration {
	if n == 0 || p.tps <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(float64(n) * float64(time.Second) / p.tps))
}

func (p *AccrualPacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.admitted == 0 {
		p.start = p.now() // monotonic
	}
	total := p.budget(p.admitted)
	if elapsed := p.now().Sub(p.start); elapsed < total {
		if err := p.sleep(ctx, total-elapsed); err != nil {
			return err
		}
	}
	p.admitted++
	return nil
}

// BatchPacer admits size units back to back, then sleeps interval before the
// next batch.
type BatchPacer struct {
	clock
	size     int
	interval time.Duration
	inBatch  int
}

func NewBatchPacer(size int, interval time.Duration) *BatchPacer {
	if size <= 0 {
		size = 1
	}
	return &BatchPacer{clock: realClock(), size: size, interval: interval}
}

func (p *BatchPacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.inBatch == p.size {
		if err := p.sleep(ctx, p.interval); err != nil {
			return err
		}
		p.inBatch = 0
	}
	p.inBatch++
	return nil
}
