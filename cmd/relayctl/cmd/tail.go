package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"github.com/austindbirch/relay_load/internal/collector"
	"github.com/austindbirch/relay_load/internal/config"
	"github.com/austindbirch/relay_load/internal/logging"
)

// tailCmd represents the tail command
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow result records mirrored to NSQ",
	Long: `Consume the records topic that send mirrors to when NSQD_TCP_ADDR is set,
printing each accepted submission as it is recorded. The consumer uses an
ephemeral channel, so nothing is left behind on nsqd when it exits.

Examples:
  relayctl tail --nsqd localhost:4150
  relayctl tail --nsqd localhost:4150 --run 5f0c... --json`,
	PreRunE: bindFlags,
	RunE:    runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)

	f := tailCmd.Flags()
	f.String("nsqd", "", "nsqd TCP address (NSQD_TCP_ADDR)")
	f.String("records-topic", "", "records topic (NSQ_RECORDS_TOPIC)")
	f.String("run", "", "only print records of this run id")
}

func runTail(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if cfg.NSQ.NsqdTCPAddr == "" {
		return &config.ConfigError{Key: "NSQD_TCP_ADDR", Reason: "required"}
	}
	runID, _ := cmd.Flags().GetString("run")
	logger := newLogger(cfg, "")

	consumer, err := nsq.NewConsumer(cfg.NSQ.RecordsTopic, "relayctl#ephemeral", nsq.NewConfig())
	if err != nil {
		return fmt.Errorf("nsq consumer: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddHandler(recordPrinter(cmd.OutOrStdout(), runID, logger))

	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		return fmt.Errorf("connect to nsqd: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(stop)

	select {
	case <-stop:
	case <-cmd.Context().Done():
	}
	consumer.Stop()
	<-consumer.StopChan
	return nil
}

// recordPrinter writes every mirrored record matching runID (all when empty).
// Undecodable messages are logged and finished; redelivery cannot fix them.
func recordPrinter(w io.Writer, runID string, logger *logging.Logger) nsq.HandlerFunc {
	return func(m *nsq.Message) error {
		var rec collector.MirrorRecord
		if err := json.Unmarshal(m.Body, &rec); err != nil {
			logger.Plain().WithError(err).Warn("skipping malformed record message")
			return nil
		}
		if runID != "" && rec.RunID != runID {
			return nil
		}
		printOutput(w, rec, func(w io.Writer) {
			fmt.Fprintf(w, "%s  job=%d  file=%s  run=%s\n", rec.Created.Format(time.RFC3339Nano), rec.JobID, rec.FileName, rec.RunID)
		})
		return nil
	}
}
