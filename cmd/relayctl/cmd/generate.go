package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/austindbirch/relay_load/internal/config"
	"github.com/austindbirch/relay_load/internal/payload"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Materialize payloads into a directory",
	Long: `Produce --count payloads and store each one as <id>.json under
--tx-folder, ready for a later send run.

Examples:
  relayctl generate --tx-folder ./txs --count 500
  relayctl generate --tx-folder ./txs --count 10 --template tx.json`,
	PreRunE: bindFlags,
	RunE:    runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	f := generateCmd.Flags()
	f.String("tx-folder", "", "output directory (TX_FOLDER)")
	f.Int("count", 100, "number of payloads to write")
	f.String("template", "", "JSON template for generated payloads (TEMPLATE_PATH)")
}

type generateReport struct {
	Dir     string `json:"dir"`
	Written int    `json:"written"`
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if err := cfg.ValidateGenerate(); err != nil {
		return err
	}
	count, _ := cmd.Flags().GetInt("count")
	if count <= 0 {
		return &config.ConfigError{Key: "count", Reason: "must be positive"}
	}

	producer, err := newProducer(cfg)
	if err != nil {
		return err
	}
	store, err := payload.NewStore(cfg.Dispatch.TxFolder)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rep := generateReport{Dir: cfg.Dispatch.TxFolder}
	for rep.Written < count {
		p, err := producer.Produce(ctx)
		if err != nil {
			return err
		}
		if _, err := store.Save(p); err != nil {
			return err
		}
		rep.Written++
	}

	printOutput(cmd.OutOrStdout(), rep, func(w io.Writer) {
		fmt.Fprintf(w, "Wrote %d payloads to %s\n", rep.Written, rep.Dir)
	})
	return nil
}
