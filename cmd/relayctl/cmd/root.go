package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/relay_load/internal/auth"
	"github.com/austindbirch/relay_load/internal/config"
	"github.com/austindbirch/relay_load/internal/logging"
	"github.com/austindbirch/relay_load/internal/relayer"
)

var (
	cfgFile    string
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Load generator for a transaction relayer",
	Long: `relayctl drives a transaction relayer at a controlled rate and measures
how long its jobs take.

  relayctl generate   materialize payloads into a directory
  relayctl send       submit payloads and record the relayer's job ids
  relayctl view       replay the result log and push job latencies
  relayctl tail       follow records mirrored to NSQ during a send

Settings come from the environment (and .env), an optional config file and
flags, flags taking precedence.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.relayctl.yaml)")
	rootCmd.PersistentFlags().String("relayer", "", "relayer base URL (RELAYER_URL)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	viper.BindPFlag("relayer", rootCmd.PersistentFlags().Lookup("relayer"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".relayctl")
	}

	// flag keys map onto the env names config.FromEnv reads, e.g. tx-folder -> TX_FOLDER
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// bindFlags binds the running command's flags, inherited ones included.
// Subcommands share flag names, so binding happens per invocation rather
// than in init.
func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

// loadConfig starts from the environment and overlays every key that a flag
// or the config file sets explicitly.
func loadConfig() config.Config {
	cfg := config.FromEnv()

	str := func(key string, dst *string) {
		if viper.IsSet(key) {
			if v := viper.GetString(key); v != "" {
				*dst = v
			}
		}
	}
	num := func(key string, dst *int) {
		if viper.IsSet(key) {
			*dst = viper.GetInt(key)
		}
	}
	flt := func(key string, dst *float64) {
		if viper.IsSet(key) {
			*dst = viper.GetFloat64(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if viper.IsSet(key) {
			*dst = viper.GetDuration(key)
		}
	}

	str("relayer", &cfg.Relayer.URL)
	cfg.Relayer.URL = strings.TrimSuffix(cfg.Relayer.URL, "/")
	str("log-level", &cfg.LogLevel)
	dur("send-timeout", &cfg.Relayer.SendTimeout)
	dur("poll-timeout", &cfg.Relayer.PollTimeout)

	str("tx-folder", &cfg.Dispatch.TxFolder)
	flt("tps", &cfg.Dispatch.TPS)
	num("limit", &cfg.Dispatch.Limit)
	num("skip", &cfg.Dispatch.Skip)
	num("threads", &cfg.Dispatch.Threads)
	str("pacing", &cfg.Dispatch.Pacing)
	cfg.Dispatch.Pacing = strings.ToLower(cfg.Dispatch.Pacing)
	dur("batch-interval", &cfg.Dispatch.BatchInterval)
	num("channel-capacity", &cfg.Dispatch.ChannelCapacity)
	str("result-log", &cfg.Dispatch.ResultLog)
	str("template", &cfg.Dispatch.TemplatePath)
	str("metrics-addr", &cfg.MetricsAddr)

	num("batch-size", &cfg.Viewer.BatchSize)
	flt("poll-rps", &cfg.Viewer.PollRPS)
	str("pushgateway", &cfg.Viewer.PushgatewayURL)
	str("push-job", &cfg.Viewer.PushJob)

	str("nsqd", &cfg.NSQ.NsqdTCPAddr)
	str("records-topic", &cfg.NSQ.RecordsTopic)

	return cfg
}

func newLogger(cfg config.Config, runID string) *logging.Logger {
	logging.SetDefaultService(cfg.AppName)
	return logging.New(cfg.AppName).
		WithLevel(logging.ParseLevel(cfg.LogLevel)).
		WithRun(runID)
}

// relayerOptions attaches bearer tokens when a JWT secret is configured
func relayerOptions(cfg config.Config, runID string) ([]relayer.Option, error) {
	if cfg.Relayer.JWTSecret == "" {
		return nil, nil
	}
	signer, err := auth.NewTokenSigner(cfg.Relayer.JWTSecret, cfg.Relayer.JWTIssuer, cfg.Relayer.JWTAudience, runID, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return []relayer.Option{relayer.WithTokenSource(signer)}, nil
}

// printOutput prints v as JSON when --json is set, otherwise as the
// human-readable lines produced by human.
func printOutput(w io.Writer, v any, human func(w io.Writer)) {
	if !outputJSON {
		human(w)
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}
