package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/relay_load/internal/logging"
	"github.com/austindbirch/relay_load/internal/metrics"
	"github.com/austindbirch/relay_load/internal/record"
	"github.com/austindbirch/relay_load/internal/relayer"
)

type stubStatus struct {
	statuses map[uint32]relayer.JobStatus
	failing  map[uint32]bool
	calls    []uint32
}

func (s *stubStatus) JobStatus(_ context.Context, id uint32) (relayer.JobStatus, error) {
	s.calls = append(s.calls, id)
	if s.failing[id] {
		return relayer.JobStatus{}, &relayer.NonOKError{Op: "job", Status: http.StatusNotFound}
	}
	if st, ok := s.statuses[id]; ok {
		return st, nil
	}
	ms := int64(id) * 100
	return relayer.JobStatus{State: "done", Elapsed: &ms}, nil
}

// countingPusher records how many histogram samples each push added
type countingPusher struct {
	m       *metrics.Metrics
	last    uint64
	batches []uint64
	err     error
}

func (c *countingPusher) Push(context.Context) error {
	if c.err != nil {
		return c.err
	}
	mfs, err := c.m.Registry.Gather()
	if err != nil {
		return err
	}
	var total uint64
	for _, mf := range mfs {
		if mf.GetName() == "relayload_job_elapsed_seconds" {
			total = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	c.batches = append(c.batches, total-c.last)
	c.last = total
	return nil
}

func resultLog(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		line, err := record.MarshalLine(record.New(uint32(i), fmt.Sprintf("%d.json", i), time.Now()))
		require.NoError(t, err)
		b.Write(line)
	}
	return b.String()
}

func quiet() Option {
	return WithLogger(logging.New("viewer-test").WithOutput(io.Discard))
}

func TestPublish_BatchCounts(t *testing.T) {
	tests := []struct {
		n, batch    int
		wantBatches []uint64
	}{
		{n: 10, batch: 3, wantBatches: []uint64{3, 3, 3, 1}},
		{n: 9, batch: 3, wantBatches: []uint64{3, 3, 3}},
		{n: 2, batch: 5, wantBatches: []uint64{2}},
		{n: 1, batch: 1, wantBatches: []uint64{1}},
		{n: 0, batch: 4, wantBatches: nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("N=%d_b=%d", tt.n, tt.batch), func(t *testing.T) {
			m := metrics.New()
			pusher := &countingPusher{m: m}
			client := &stubStatus{}

			sum, err := New(client, pusher, m, tt.batch, quiet()).Publish(context.Background(), strings.NewReader(resultLog(t, tt.n)))
			require.NoError(t, err)

			wantPushes := (tt.n + tt.batch - 1) / tt.batch
			assert.Equal(t, wantPushes, sum.Pushes)
			assert.Equal(t, tt.wantBatches, pusher.batches)
			assert.Equal(t, tt.n, sum.Records)
			assert.Equal(t, tt.n, sum.Samples)
		})
	}
}

func TestPublish_FileOrderAndConversion(t *testing.T) {
	m := metrics.New()
	client := &stubStatus{}
	_, err := New(client, &countingPusher{m: m}, m, 100, quiet()).Publish(context.Background(), strings.NewReader(resultLog(t, 4)))
	require.NoError(t, err)

	assert.Equal(t, []uint32{1, 2, 3, 4}, client.calls)

	mfs, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "relayload_job_elapsed_seconds" {
			// 0.1 + 0.2 + 0.3 + 0.4 seconds
			assert.InDelta(t, 1.0, mf.GetMetric()[0].GetHistogram().GetSampleSum(), 1e-9)
		}
	}
}

func TestPublish_PendingAndPollErrorsSkipped(t *testing.T) {
	m := metrics.New()
	pusher := &countingPusher{m: m}
	client := &stubStatus{
		statuses: map[uint32]relayer.JobStatus{2: {State: "queued"}},
		failing:  map[uint32]bool{4: true},
	}

	sum, err := New(client, pusher, m, 2, quiet()).Publish(context.Background(), strings.NewReader(resultLog(t, 5)))
	require.NoError(t, err)

	assert.Equal(t, Summary{Records: 5, Samples: 3, Pending: 1, PollErrors: 1, Pushes: 2}, sum)
	assert.Equal(t, []uint64{2, 1}, pusher.batches)
}

func TestPublish_MalformedLine(t *testing.T) {
	m := metrics.New()
	pusher := &countingPusher{m: m}
	log := resultLog(t, 2) + "{not json\n" + resultLog(t, 1)

	sum, err := New(&stubStatus{}, pusher, m, 10, quiet()).Publish(context.Background(), strings.NewReader(log))

	var serr *record.SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 3, serr.Line)
	// samples read before the bad line are still published
	assert.Equal(t, []uint64{2}, pusher.batches)
	assert.Equal(t, 2, sum.Records)
}

func TestPublish_PushFailure(t *testing.T) {
	m := metrics.New()
	pusher := &countingPusher{m: m, err: errors.New("gateway down")}

	_, err := New(&stubStatus{}, pusher, m, 1, quiet()).Publish(context.Background(), strings.NewReader(resultLog(t, 3)))
	assert.ErrorContains(t, err, "gateway down")
}

func TestPublish_PollRateLimit(t *testing.T) {
	m := metrics.New()
	start := time.Now()
	_, err := New(&stubStatus{}, &countingPusher{m: m}, m, 10, quiet(), WithPollRate(50)).
		Publish(context.Background(), strings.NewReader(resultLog(t, 6)))
	require.NoError(t, err)
	// burst of 1: five waits of 20ms
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestPublish_Canceled(t *testing.T) {
	m := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&stubStatus{}, &countingPusher{m: m}, m, 10, quiet(), WithPollRate(1)).
		Publish(ctx, strings.NewReader(resultLog(t, 3)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublish_AgainstHTTPRelayer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"state":"done","txHash":"0x1","created":1704067200000,"elapsed":2500}`)
	}))
	defer srv.Close()

	m := metrics.New()
	pusher := &countingPusher{m: m}
	sum, err := New(relayer.NewClient(srv.URL, time.Second), pusher, m, 2, quiet()).
		Publish(context.Background(), strings.NewReader(resultLog(t, 3)))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Pushes)
	assert.Equal(t, []uint64{2, 1}, pusher.batches)
}
