package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	PacingAccrual = "accrual"
	PacingBatch   = "batch"
)

type Relayer struct {
	URL         string        // base URL, e.g. http://localhost:8000
	SendTimeout time.Duration // per-submission HTTP timeout
	PollTimeout time.Duration // per job-status HTTP timeout
	JWTSecret   string        // HS256 secret for bearer tokens; empty disables auth
	JWTIssuer   string
	JWTAudience string
}

type Dispatch struct {
	TxFolder        string        // pre-materialized payload directory; empty means generate on demand
	TPS             float64       // target admissions per second
	Limit           int           // max admissions, 0 = until source exhausted
	Skip            int           // payload positions skipped before admission
	Threads         int           // concurrency budget for in-flight sends
	Pacing          string        // accrual | batch
	BatchInterval   time.Duration // sleep between batches in batch pacing
	ChannelCapacity int           // collector intake capacity
	ResultLog       string        // durable append-only result log
	TemplatePath    string        // optional JSON template for generated payloads
}

type Viewer struct {
	BatchSize       int     // samples per push
	PollRPS         float64 // job-status polls per second, 0 = unlimited
	PushgatewayURL  string
	PushgatewayUser string
	PushgatewayPass string
	PushJob         string
}

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr  string // empty disables the NSQ record mirror
	RecordsTopic string
}

type Config struct {
	AppName      string
	LogLevel     string
	MetricsAddr  string // optional listen address for /metrics and /healthz during send
	OTLPEndpoint string // optional OTLP HTTP endpoint for traces
	Relayer      Relayer
	Dispatch     Dispatch
	Viewer       Viewer
	DB           DB
	NSQ          NSQ
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:      getenv("APP_NAME", "relayload"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		MetricsAddr:  getenv("METRICS_ADDR", ""),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Relayer: Relayer{
			URL:         strings.TrimSuffix(getenv("RELAYER_URL", "http://localhost:8000"), "/"),
			SendTimeout: getenvDuration("SEND_TIMEOUT", 5*time.Second),
			PollTimeout: getenvDuration("POLL_TIMEOUT", 3*time.Second),
			JWTSecret:   getenv("RELAYER_JWT_SECRET", ""),
			JWTIssuer:   getenv("RELAYER_JWT_ISSUER", "relayload"),
			JWTAudience: getenv("RELAYER_JWT_AUDIENCE", "relayer"),
		},
		Dispatch: Dispatch{
			TxFolder:        getenv("TX_FOLDER", ""),
			TPS:             getenvFloat("TPS", 10),
			Limit:           getenvInt("LIMIT", 0),
			Skip:            getenvInt("SKIP", 0),
			Threads:         getenvInt("THREADS", 64),
			Pacing:          strings.ToLower(getenv("PACING", PacingAccrual)),
			BatchInterval:   getenvDuration("BATCH_INTERVAL", time.Second),
			ChannelCapacity: getenvInt("CHANNEL_CAPACITY", 1000),
			ResultLog:       getenv("RESULT_LOG", "result.log"),
			TemplatePath:    getenv("TEMPLATE_PATH", ""),
		},
		Viewer: Viewer{
			BatchSize:       getenvInt("BATCH_SIZE", 100),
			PollRPS:         getenvFloat("POLL_RPS", 0),
			PushgatewayURL:  getenv("PUSHGATEWAY_URL", ""),
			PushgatewayUser: getenv("PUSHGATEWAY_USER", ""),
			PushgatewayPass: getenv("PUSHGATEWAY_PASS", ""),
			PushJob:         getenv("PUSH_JOB", "relayload"),
		},
		DB: DB{
			User: getenv("DB_USER", ""),
			Pass: getenv("DB_PASS", ""),
			Host: getenv("DB_HOST", ""),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "relayload"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:  getenv("NSQD_TCP_ADDR", ""),
			RecordsTopic: getenv("NSQ_RECORDS_TOPIC", "relayload_submissions"),
		},
	}
}

// DSN returns the Postgres connection string, or "" when no DB host is configured
func (c Config) DSN() string {
	if c.DB.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// ValidateSend checks the settings the send command depends on
func (c Config) ValidateSend() error {
	if c.Relayer.URL == "" {
		return &ConfigError{Key: "RELAYER_URL", Reason: "required"}
	}
	if c.Relayer.SendTimeout <= 0 {
		return &ConfigError{Key: "SEND_TIMEOUT", Reason: "must be positive"}
	}
	if c.Dispatch.ResultLog == "" {
		return &ConfigError{Key: "RESULT_LOG", Reason: "required"}
	}
	if c.Dispatch.Limit < 0 {
		return &ConfigError{Key: "LIMIT", Reason: "must not be negative"}
	}
	if c.Dispatch.Skip < 0 {
		return &ConfigError{Key: "SKIP", Reason: "must not be negative"}
	}
	if c.Dispatch.Threads <= 0 {
		return &ConfigError{Key: "THREADS", Reason: "must be positive"}
	}
	if c.Dispatch.ChannelCapacity <= 0 {
		return &ConfigError{Key: "CHANNEL_CAPACITY", Reason: "must be positive"}
	}
	switch c.Dispatch.Pacing {
	case PacingAccrual:
		if c.Dispatch.TPS <= 0 {
			return &ConfigError{Key: "TPS", Reason: "must be positive"}
		}
	case PacingBatch:
		if c.Dispatch.BatchInterval <= 0 {
			return &ConfigError{Key: "BATCH_INTERVAL", Reason: "must be positive"}
		}
	default:
		return &ConfigError{Key: "PACING", Reason: fmt.Sprintf("unknown strategy %q", c.Dispatch.Pacing)}
	}
	if c.Dispatch.TxFolder == "" && c.Dispatch.Limit == 0 {
		return &ConfigError{Key: "LIMIT", Reason: "required when payloads are generated on demand"}
	}
	return nil
}

// ValidateView checks the settings the view command depends on
func (c Config) ValidateView() error {
	if c.Relayer.URL == "" {
		return &ConfigError{Key: "RELAYER_URL", Reason: "required"}
	}
	if c.Dispatch.ResultLog == "" {
		return &ConfigError{Key: "RESULT_LOG", Reason: "required"}
	}
	if c.Viewer.BatchSize <= 0 {
		return &ConfigError{Key: "BATCH_SIZE", Reason: "must be positive"}
	}
	if c.Viewer.PushgatewayURL == "" {
		return &ConfigError{Key: "PUSHGATEWAY_URL", Reason: "required"}
	}
	if c.Viewer.PollRPS < 0 {
		return &ConfigError{Key: "POLL_RPS", Reason: "must not be negative"}
	}
	return nil
}

// ValidateGenerate checks the settings the generate command depends on
func (c Config) ValidateGenerate() error {
	if c.Dispatch.TxFolder == "" {
		return &ConfigError{Key: "TX_FOLDER", Reason: "required"}
	}
	return nil
}
