package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/austindbirch/relay_load/internal/metrics"
	"github.com/austindbirch/relay_load/internal/relayer"
	"github.com/austindbirch/relay_load/internal/tracing"
	"github.com/austindbirch/relay_load/internal/viewer"
)

// viewCmd represents the view command
var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Replay the result log and push job latencies",
	Long: `Read the result log in order, look up every job on the relayer and
observe its elapsed time. Observations are pushed to the Prometheus push
gateway every --batch-size samples and once more at the end of the log.

Jobs that are still pending are counted and skipped.

Examples:
  relayctl view --pushgateway http://localhost:9091
  relayctl view --result-log run1.log --batch-size 50 --poll-rps 20`,
	PreRunE: bindFlags,
	RunE:    runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)

	f := viewCmd.Flags()
	f.String("result-log", "", "result log written by send (RESULT_LOG)")
	f.Int("batch-size", 0, "samples per push (BATCH_SIZE)")
	f.Float64("poll-rps", 0, "job status polls per second, 0 = unlimited (POLL_RPS)")
	f.Duration("poll-timeout", 0, "per poll timeout (POLL_TIMEOUT)")
	f.String("pushgateway", "", "push gateway URL (PUSHGATEWAY_URL)")
	f.String("push-job", "", "push gateway job name (PUSH_JOB)")
	f.String("instance", "", "instance grouping label (default: random id)")
}

type viewReport struct {
	Instance   string `json:"instance"`
	Records    int    `json:"records"`
	Samples    int    `json:"samples"`
	Pending    int    `json:"pending"`
	PollErrors int    `json:"poll_errors"`
	Pushes     int    `json:"pushes"`
}

func runView(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if err := cfg.ValidateView(); err != nil {
		return err
	}

	instance, _ := cmd.Flags().GetString("instance")
	if instance == "" {
		instance = uuid.NewString()
	}
	logger := newLogger(cfg, instance)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing()

	f, err := os.Open(cfg.Dispatch.ResultLog)
	if err != nil {
		return fmt.Errorf("open result log: %w", err)
	}
	defer f.Close()

	opts, err := relayerOptions(cfg, instance)
	if err != nil {
		return err
	}
	client := relayer.NewClient(cfg.Relayer.URL, cfg.Relayer.PollTimeout, opts...)

	m := metrics.New()
	pusher := metrics.NewGatewayPusher(metrics.PushConfig{
		URL:      cfg.Viewer.PushgatewayURL,
		Job:      cfg.Viewer.PushJob,
		Instance: instance,
		User:     cfg.Viewer.PushgatewayUser,
		Pass:     cfg.Viewer.PushgatewayPass,
	}, m.ViewerCollectors()...)

	pub := viewer.New(client, pusher, m, cfg.Viewer.BatchSize,
		viewer.WithPollRate(cfg.Viewer.PollRPS),
		viewer.WithLogger(logger))

	sum, runErr := pub.Publish(ctx, f)

	rep := viewReport{
		Instance:   instance,
		Records:    sum.Records,
		Samples:    sum.Samples,
		Pending:    sum.Pending,
		PollErrors: sum.PollErrors,
		Pushes:     sum.Pushes,
	}
	printOutput(cmd.OutOrStdout(), rep, func(w io.Writer) {
		fmt.Fprintf(w, "Instance %s\n", rep.Instance)
		fmt.Fprintf(w, "  Records:     %d\n", rep.Records)
		fmt.Fprintf(w, "  Samples:     %d\n", rep.Samples)
		fmt.Fprintf(w, "  Pending:     %d\n", rep.Pending)
		fmt.Fprintf(w, "  Poll errors: %d\n", rep.PollErrors)
		fmt.Fprintf(w, "  Pushes:      %d\n", rep.Pushes)
	})
	return runErr
}
