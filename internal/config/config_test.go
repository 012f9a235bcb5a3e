package config

import (
	"errors"
	"testing"
	"time"
)

var allKeys = []string{
	"APP_NAME", "LOG_LEVEL", "METRICS_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"RELAYER_URL", "SEND_TIMEOUT", "POLL_TIMEOUT", "RELAYER_JWT_SECRET", "RELAYER_JWT_ISSUER", "RELAYER_JWT_AUDIENCE",
	"TX_FOLDER", "TPS", "LIMIT", "SKIP", "THREADS", "PACING", "BATCH_INTERVAL", "CHANNEL_CAPACITY", "RESULT_LOG", "TEMPLATE_PATH",
	"BATCH_SIZE", "POLL_RPS", "PUSHGATEWAY_URL", "PUSHGATEWAY_USER", "PUSHGATEWAY_PASS", "PUSH_JOB",
	"DB_USER", "DB_PASS", "DB_HOST", "DB_PORT", "DB_NAME", "NSQD_TCP_ADDR", "NSQ_RECORDS_TOPIC",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestGetenvHelpers(t *testing.T) {
	tests := []struct {
		name  string
		value string
		check func(t *testing.T)
	}{
		{
			name:  "int parses",
			value: "42",
			check: func(t *testing.T) {
				if got := getenvInt("TEST_CFG_VAR", 7); got != 42 {
					t.Errorf("getenvInt() = %d, want 42", got)
				}
			},
		},
		{
			name:  "int falls back on garbage",
			value: "forty-two",
			check: func(t *testing.T) {
				if got := getenvInt("TEST_CFG_VAR", 7); got != 7 {
					t.Errorf("getenvInt() = %d, want 7", got)
				}
			},
		},
		{
			name:  "float parses",
			value: "2.5",
			check: func(t *testing.T) {
				if got := getenvFloat("TEST_CFG_VAR", 1); got != 2.5 {
					t.Errorf("getenvFloat() = %v, want 2.5", got)
				}
			},
		},
		{
			name:  "duration parses",
			value: "250ms",
			check: func(t *testing.T) {
				if got := getenvDuration("TEST_CFG_VAR", time.Second); got != 250*time.Millisecond {
					t.Errorf("getenvDuration() = %v, want 250ms", got)
				}
			},
		},
		{
			name:  "duration falls back on garbage",
			value: "soon",
			check: func(t *testing.T) {
				if got := getenvDuration("TEST_CFG_VAR", time.Second); got != time.Second {
					t.Errorf("getenvDuration() = %v, want 1s", got)
				}
			},
		},
		{
			name:  "string default when empty",
			value: "",
			check: func(t *testing.T) {
				if got := getenv("TEST_CFG_VAR", "def"); got != "def" {
					t.Errorf("getenv() = %q, want def", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_CFG_VAR", tt.value)
			tt.check(t)
		})
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := FromEnv()

	if cfg.AppName != "relayload" {
		t.Errorf("AppName = %q, want relayload", cfg.AppName)
	}
	if cfg.Relayer.URL != "http://localhost:8000" {
		t.Errorf("Relayer.URL = %q", cfg.Relayer.URL)
	}
	if cfg.Relayer.SendTimeout != 5*time.Second {
		t.Errorf("Relayer.SendTimeout = %v, want 5s", cfg.Relayer.SendTimeout)
	}
	if cfg.Relayer.PollTimeout != 3*time.Second {
		t.Errorf("Relayer.PollTimeout = %v, want 3s", cfg.Relayer.PollTimeout)
	}
	if cfg.Dispatch.Pacing != PacingAccrual {
		t.Errorf("Dispatch.Pacing = %q, want accrual", cfg.Dispatch.Pacing)
	}
	if cfg.Dispatch.ChannelCapacity != 1000 {
		t.Errorf("Dispatch.ChannelCapacity = %d, want 1000", cfg.Dispatch.ChannelCapacity)
	}
	if cfg.Dispatch.ResultLog != "result.log" {
		t.Errorf("Dispatch.ResultLog = %q, want result.log", cfg.Dispatch.ResultLog)
	}
	if cfg.Viewer.BatchSize != 100 {
		t.Errorf("Viewer.BatchSize = %d, want 100", cfg.Viewer.BatchSize)
	}
	if cfg.DSN() != "" {
		t.Errorf("DSN() = %q, want empty without DB_HOST", cfg.DSN())
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAYER_URL", "http://relayer:8000/")
	t.Setenv("TPS", "250")
	t.Setenv("LIMIT", "1000")
	t.Setenv("SKIP", "10")
	t.Setenv("THREADS", "8")
	t.Setenv("PACING", "BATCH")
	t.Setenv("BATCH_SIZE", "50")
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_PASS", "p")

	cfg := FromEnv()

	if cfg.Relayer.URL != "http://relayer:8000" {
		t.Errorf("Relayer.URL = %q, want trailing slash trimmed", cfg.Relayer.URL)
	}
	if cfg.Dispatch.TPS != 250 || cfg.Dispatch.Limit != 1000 || cfg.Dispatch.Skip != 10 || cfg.Dispatch.Threads != 8 {
		t.Errorf("Dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.Pacing != PacingBatch {
		t.Errorf("Dispatch.Pacing = %q, want batch", cfg.Dispatch.Pacing)
	}
	if cfg.Viewer.BatchSize != 50 {
		t.Errorf("Viewer.BatchSize = %d, want 50", cfg.Viewer.BatchSize)
	}
	want := "postgres://u:p@pg:5432/relayload?sslmode=disable"
	if cfg.DSN() != want {
		t.Errorf("DSN() = %q, want %q", cfg.DSN(), want)
	}
}

func TestValidateSend(t *testing.T) {
	clearEnv(t)
	valid := func() Config {
		cfg := FromEnv()
		cfg.Dispatch.TxFolder = "/tmp/txs"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantKey string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing relayer", mutate: func(c *Config) { c.Relayer.URL = "" }, wantKey: "RELAYER_URL"},
		{name: "zero tps", mutate: func(c *Config) { c.Dispatch.TPS = 0 }, wantKey: "TPS"},
		{name: "negative skip", mutate: func(c *Config) { c.Dispatch.Skip = -1 }, wantKey: "SKIP"},
		{name: "zero threads", mutate: func(c *Config) { c.Dispatch.Threads = 0 }, wantKey: "THREADS"},
		{name: "unknown pacing", mutate: func(c *Config) { c.Dispatch.Pacing = "burst" }, wantKey: "PACING"},
		{name: "batch pacing ignores tps", mutate: func(c *Config) { c.Dispatch.Pacing = PacingBatch; c.Dispatch.TPS = 0 }},
		{name: "generated payloads need a limit", mutate: func(c *Config) { c.Dispatch.TxFolder = "" }, wantKey: "LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.ValidateSend()
			if tt.wantKey == "" {
				if err != nil {
					t.Fatalf("ValidateSend() unexpected error: %v", err)
				}
				return
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("ValidateSend() error = %v, want *ConfigError", err)
			}
			if cerr.Key != tt.wantKey {
				t.Errorf("ConfigError.Key = %q, want %q", cerr.Key, tt.wantKey)
			}
		})
	}
}

func TestValidateView(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()

	var cerr *ConfigError
	if err := cfg.ValidateView(); !errors.As(err, &cerr) || cerr.Key != "PUSHGATEWAY_URL" {
		t.Fatalf("ValidateView() error = %v, want PUSHGATEWAY_URL ConfigError", err)
	}

	cfg.Viewer.PushgatewayURL = "http://pushgateway:9091"
	if err := cfg.ValidateView(); err != nil {
		t.Fatalf("ValidateView() unexpected error: %v", err)
	}

	cfg.Viewer.BatchSize = 0
	if err := cfg.ValidateView(); !errors.As(err, &cerr) || cerr.Key != "BATCH_SIZE" {
		t.Fatalf("ValidateView() error = %v, want BATCH_SIZE ConfigError", err)
	}
}

func TestValidateGenerate(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()
	if err := cfg.ValidateGenerate(); err == nil {
		t.Fatal("ValidateGenerate() expected error without TX_FOLDER")
	}
	cfg.Dispatch.TxFolder = t.TempDir()
	if err := cfg.ValidateGenerate(); err != nil {
		t.Fatalf("ValidateGenerate() unexpected error: %v", err)
	}
}
