package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/austindbirch/relay_load/internal/collector"
	"github.com/austindbirch/relay_load/internal/config"
	"github.com/austindbirch/relay_load/internal/db"
	"github.com/austindbirch/relay_load/internal/dispatch"
	"github.com/austindbirch/relay_load/internal/health"
	"github.com/austindbirch/relay_load/internal/logging"
	"github.com/austindbirch/relay_load/internal/metrics"
	"github.com/austindbirch/relay_load/internal/payload"
	"github.com/austindbirch/relay_load/internal/relayer"
	"github.com/austindbirch/relay_load/internal/tracing"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit payloads to the relayer at a controlled rate",
	Long: `Submit payloads to the relayer and append one line per accepted
submission to the result log.

Payloads are read from --tx-folder in file name order, or generated on the fly
when no folder is given (then --limit is required). Each payload is sent once;
failures are logged and counted, never retried.

Examples:
  relayctl send --tx-folder ./txs --tps 50 --limit 1000
  relayctl send --limit 200 --pacing batch --threads 20 --batch-interval 1s`,
	PreRunE: bindFlags,
	RunE:    runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	f := sendCmd.Flags()
	f.String("tx-folder", "", "directory of payload files (TX_FOLDER)")
	f.Float64("tps", 0, "target submissions per second (TPS)")
	f.Int("limit", 0, "maximum submissions, 0 = whole folder (LIMIT)")
	f.Int("skip", 0, "payload files to skip (SKIP)")
	f.Int("threads", 0, "maximum sends in flight (THREADS)")
	f.String("pacing", "", "accrual or batch (PACING)")
	f.Duration("batch-interval", 0, "sleep between batches with batch pacing (BATCH_INTERVAL)")
	f.Duration("send-timeout", 0, "per submission timeout (SEND_TIMEOUT)")
	f.Int("channel-capacity", 0, "collector intake capacity (CHANNEL_CAPACITY)")
	f.String("result-log", "", "append-only result log (RESULT_LOG)")
	f.String("template", "", "JSON template for generated payloads (TEMPLATE_PATH)")
	f.String("metrics-addr", "", "serve /metrics and /healthz on this address while sending (METRICS_ADDR)")
}

type sendReport struct {
	RunID      string  `json:"run_id"`
	ResultLog  string  `json:"result_log"`
	Admitted   int     `json:"admitted"`
	Submitted  int     `json:"submitted"`
	Rejected   int     `json:"rejected"`
	Failed     int     `json:"failed"`
	ReadErrors int     `json:"read_errors"`
	Written    int64   `json:"written"`
	Seconds    float64 `json:"seconds"`
	Rate       float64 `json:"admitted_per_second"`
}

func runSend(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if err := cfg.ValidateSend(); err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := newLogger(cfg, runID)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing()

	src, err := openSource(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	sinks, pinger, closeMirrors, err := openSinks(ctx, cfg, runID)
	if err != nil {
		return err
	}
	defer closeMirrors()

	coll := collector.New(cfg.Dispatch.ChannelCapacity, logger, m, sinks...)
	collErr := make(chan error, 1)
	go func() { collErr <- coll.Run(ctx) }()

	if cfg.MetricsAddr != "" {
		stopServer := serveMetrics(cfg.MetricsAddr, m, pinger, coll.Len, logger)
		defer stopServer()
	}

	opts, err := relayerOptions(cfg, runID)
	if err != nil {
		coll.Close()
		<-collErr
		return err
	}
	client := relayer.NewClient(cfg.Relayer.URL, cfg.Relayer.SendTimeout, opts...)
	worker := dispatch.NewWorker(client, coll, logger, m)
	d := dispatch.New(src, newPacer(cfg), worker, dispatch.Options{
		Limit:   cfg.Dispatch.Limit,
		Threads: cfg.Dispatch.Threads,
	}, logger, m)

	logger.Plain().WithFields(map[string]any{
		"relayer": cfg.Relayer.URL,
		"pacing":  cfg.Dispatch.Pacing,
		"tps":     cfg.Dispatch.TPS,
		"limit":   cfg.Dispatch.Limit,
		"threads": cfg.Dispatch.Threads,
	}).Info("load run starting")

	sum, runErr := d.Run(ctx)
	coll.Close()
	saveErr := <-collErr

	rep := sendReport{
		RunID:      runID,
		ResultLog:  cfg.Dispatch.ResultLog,
		Admitted:   sum.Admitted,
		Submitted:  sum.Submitted,
		Rejected:   sum.Rejected,
		Failed:     sum.Failed,
		ReadErrors: sum.ReadErrors,
		Written:    coll.Written(),
		Seconds:    sum.Duration.Seconds(),
	}
	if sum.Duration > 0 {
		rep.Rate = float64(sum.Admitted) / sum.Duration.Seconds()
	}
	printOutput(cmd.OutOrStdout(), rep, func(w io.Writer) {
		fmt.Fprintf(w, "Run %s\n", rep.RunID)
		fmt.Fprintf(w, "  Admitted:    %d (%.1f/s over %.1fs)\n", rep.Admitted, rep.Rate, rep.Seconds)
		fmt.Fprintf(w, "  Submitted:   %d\n", rep.Submitted)
		fmt.Fprintf(w, "  Rejected:    %d\n", rep.Rejected)
		fmt.Fprintf(w, "  Failed:      %d\n", rep.Failed)
		fmt.Fprintf(w, "  Read errors: %d\n", rep.ReadErrors)
		fmt.Fprintf(w, "  Written:     %d -> %s\n", rep.Written, rep.ResultLog)
	})

	if saveErr != nil {
		return saveErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func openSource(cfg config.Config) (payload.Source, error) {
	if cfg.Dispatch.TxFolder != "" {
		return payload.OpenDir(cfg.Dispatch.TxFolder, cfg.Dispatch.Skip, cfg.Dispatch.Limit)
	}
	producer, err := newProducer(cfg)
	if err != nil {
		return nil, err
	}
	return payload.NewGeneratorSource(producer), nil
}

func newProducer(cfg config.Config) (*payload.RandomProducer, error) {
	var tmpl map[string]any
	if cfg.Dispatch.TemplatePath != "" {
		var err error
		if tmpl, err = payload.LoadTemplate(cfg.Dispatch.TemplatePath); err != nil {
			return nil, err
		}
	}
	return payload.NewRandomProducer(tmpl), nil
}

func newPacer(cfg config.Config) dispatch.Pacer {
	if cfg.Dispatch.Pacing == config.PacingBatch {
		return dispatch.NewBatchPacer(cfg.Dispatch.Threads, cfg.Dispatch.BatchInterval)
	}
	return dispatch.NewAccrualPacer(cfg.Dispatch.TPS)
}

// openSinks opens the result log plus the optional Postgres and NSQ mirrors.
// The returned pinger is nil without a database.
func openSinks(ctx context.Context, cfg config.Config, runID string) ([]collector.Sink, health.Pinger, func(), error) {
	fileLog, err := collector.OpenFileLog(cfg.Dispatch.ResultLog)
	if err != nil {
		return nil, nil, nil, err
	}
	sinks := []collector.Sink{fileLog}
	var (
		pinger  health.Pinger
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) ([]collector.Sink, health.Pinger, func(), error) {
		cleanup()
		fileLog.Close()
		return nil, nil, nil, err
	}

	if dsn := cfg.DSN(); dsn != "" {
		pool, err := db.Connect(ctx, dsn)
		if err != nil {
			return fail(fmt.Errorf("connect database: %w", err))
		}
		closers = append(closers, pool.Close)
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return fail(err)
		}
		pinger = pool
		sinks = append(sinks, collector.NewPostgresSink(pool, runID))
	}

	if cfg.NSQ.NsqdTCPAddr != "" {
		nsqSink, err := collector.NewNSQSink(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.RecordsTopic, runID)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, nsqSink)
	}

	return sinks, pinger, cleanup, nil
}

func serveMetrics(addr string, m *metrics.Metrics, pinger health.Pinger, backlog func() int, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.HTTPHandler(pinger, backlog))
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", addr).Info("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Error("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
