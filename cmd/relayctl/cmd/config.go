package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/relay_load/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect relayctl configuration",
	Long:  `Inspect the configuration relayctl resolves from the environment, config file and flags.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:     "view",
	Short:   "View current configuration",
	Long:    `Display the effective configuration. Secrets are masked.`,
	PreRunE: bindFlags,
	Run: func(cmd *cobra.Command, args []string) {
		v := effectiveConfig(loadConfig())
		printOutput(cmd.OutOrStdout(), v, func(w io.Writer) {
			fmt.Fprintln(w, "Current configuration:")
			fmt.Fprintf(w, "  Relayer: %s (send timeout %s, poll timeout %s)\n", v.RelayerURL, v.SendTimeout, v.PollTimeout)
			fmt.Fprintf(w, "  JWT secret: %s\n", v.JWTSecret)
			fmt.Fprintf(w, "  Tx folder: %s\n", orNone(v.TxFolder))
			fmt.Fprintf(w, "  Pacing: %s (tps %g, threads %d, batch interval %s)\n", v.Pacing, v.TPS, v.Threads, v.BatchInterval)
			fmt.Fprintf(w, "  Limit/skip: %d/%d\n", v.Limit, v.Skip)
			fmt.Fprintf(w, "  Result log: %s\n", v.ResultLog)
			fmt.Fprintf(w, "  Push gateway: %s (job %s, batch %d)\n", orNone(v.Pushgateway), v.PushJob, v.BatchSize)
			fmt.Fprintf(w, "  Database: %s\n", orNone(v.Database))
			fmt.Fprintf(w, "  NSQ: %s\n", orNone(v.NSQ))
			if viper.ConfigFileUsed() != "" {
				fmt.Fprintf(w, "  Config file: %s\n", viper.ConfigFileUsed())
			} else {
				fmt.Fprintln(w, "  Config file: none (using defaults)")
			}
		})
	},
}

func init() {
	configCmd.AddCommand(configViewCmd)
	rootCmd.AddCommand(configCmd)
}

type configView struct {
	RelayerURL    string  `json:"relayer_url"`
	SendTimeout   string  `json:"send_timeout"`
	PollTimeout   string  `json:"poll_timeout"`
	JWTSecret     string  `json:"jwt_secret"`
	TxFolder      string  `json:"tx_folder"`
	Pacing        string  `json:"pacing"`
	TPS           float64 `json:"tps"`
	Threads       int     `json:"threads"`
	BatchInterval string  `json:"batch_interval"`
	Limit         int     `json:"limit"`
	Skip          int     `json:"skip"`
	ResultLog     string  `json:"result_log"`
	Pushgateway   string  `json:"pushgateway"`
	PushJob       string  `json:"push_job"`
	BatchSize     int     `json:"batch_size"`
	Database      string  `json:"database"`
	NSQ           string  `json:"nsq"`
}

func effectiveConfig(cfg config.Config) configView {
	v := configView{
		RelayerURL:    cfg.Relayer.URL,
		SendTimeout:   cfg.Relayer.SendTimeout.String(),
		PollTimeout:   cfg.Relayer.PollTimeout.String(),
		JWTSecret:     mask(cfg.Relayer.JWTSecret),
		TxFolder:      cfg.Dispatch.TxFolder,
		Pacing:        cfg.Dispatch.Pacing,
		TPS:           cfg.Dispatch.TPS,
		Threads:       cfg.Dispatch.Threads,
		BatchInterval: cfg.Dispatch.BatchInterval.String(),
		Limit:         cfg.Dispatch.Limit,
		Skip:          cfg.Dispatch.Skip,
		ResultLog:     cfg.Dispatch.ResultLog,
		Pushgateway:   cfg.Viewer.PushgatewayURL,
		PushJob:       cfg.Viewer.PushJob,
		BatchSize:     cfg.Viewer.BatchSize,
	}
	if cfg.DB.Host != "" {
		v.Database = fmt.Sprintf("%s@%s:%s/%s", cfg.DB.User, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	}
	if cfg.NSQ.NsqdTCPAddr != "" {
		v.NSQ = cfg.NSQ.NsqdTCPAddr + " topic=" + cfg.NSQ.RecordsTopic
	}
	return v
}

// mask hides all but the last two characters of a secret
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return "****" + s[len(s)-2:]
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
