package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/austindbirch/relay_load/internal/auth"
	"github.com/austindbirch/relay_load/internal/logging"
	"github.com/austindbirch/relay_load/internal/tracing"
)

const (
	statePending   = "pending"
	stateCompleted = "completed"
)

type job struct {
	created time.Time
	txHash  string
}

type fakeRelayer struct {
	failFirstN  int64
	jobDuration time.Duration
	now         func() time.Time
	logger      *logging.Logger

	reqCount atomic.Int64
	nextID   atomic.Uint32

	mu   sync.RWMutex
	jobs map[uint32]job
}

func newRelayer(failFirstN int, jobDuration time.Duration, logger *logging.Logger) *fakeRelayer {
	return &fakeRelayer{
		failFirstN:  int64(failFirstN),
		jobDuration: jobDuration,
		now:         time.Now,
		logger:      logger,
		jobs:        make(map[uint32]job),
	}
}

func (s *fakeRelayer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("POST /transaction", s.handleTransaction)
	mux.HandleFunc("GET /job/{id}", s.handleJob)
	return mux
}

func (s *fakeRelayer) handleTransaction(w http.ResponseWriter, r *http.Request) {
	n := s.reqCount.Add(1)
	b, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// Simulate flakiness: first N requests -> 500
	if n <= s.failFirstN {
		s.logger.Plain().WithField("request", n).Warnf("FAILING (%d/%d) body=%s", n, s.failFirstN, truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}
	if !json.Valid(b) {
		http.Error(w, "body is not JSON", http.StatusBadRequest)
		return
	}

	id := s.nextID.Add(1)
	s.mu.Lock()
	s.jobs[id] = job{created: s.now(), txHash: randomHash()}
	s.mu.Unlock()

	ctx := tracing.ExtractHTTP(r.Context(), r.Header)
	s.logger.WithContext(ctx).WithJob(id).Info("job accepted")
	writeJSON(w, http.StatusOK, map[string]string{"jobId": strconv.FormatUint(uint64(id), 10)})
}

type jobResponse struct {
	State   string  `json:"state"`
	TxHash  *string `json:"txHash"`
	Created int64   `json:"created"` // unix milliseconds
	Elapsed *int64  `json:"elapsed"`
}

func (s *fakeRelayer) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	j, ok := s.jobs[uint32(id)]
	s.mu.RUnlock()
	if !ok {
		s.logger.WithContext(tracing.ExtractHTTP(r.Context(), r.Header)).WithJob(uint32(id)).Warn("unknown job polled")
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	resp := jobResponse{State: statePending, Created: j.created.UnixMilli()}
	if age := s.now().Sub(j.created); age >= s.jobDuration {
		ms := s.jobDuration.Milliseconds()
		resp.State = stateCompleted
		resp.TxHash = &j.txHash
		resp.Elapsed = &ms
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func randomHash() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return "0x" + hex.EncodeToString(b)
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	if err := godotenv.Load(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
			os.Exit(1)
		}
	}

	logger := logging.New("fake-relayer").WithLevel(logging.ParseLevel(os.Getenv("LOG_LEVEL")))
	shutdownTracing, err := tracing.InitTracing(context.Background(), "fake-relayer", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		logger.Plain().WithError(err).Fatal("init tracing failed")
	}
	defer shutdownTracing()

	s := newRelayer(
		getenvInt("FAIL_FIRST_N", 0),
		time.Duration(getenvInt("JOB_DURATION_MS", 1500))*time.Millisecond,
		logger,
	)

	var handler http.Handler = s.routes()
	if secret := os.Getenv("RELAYER_JWT_SECRET"); secret != "" {
		v, err := auth.NewJWTValidator(secret,
			envOr("RELAYER_JWT_ISSUER", "relayload"),
			envOr("RELAYER_JWT_AUDIENCE", "relayer"))
		if err != nil {
			logger.Plain().WithError(err).Fatal("invalid jwt settings")
		}
		handler = v.HTTPMiddleware(handler)
	}

	addr := envOr("ADDR", ":8000")
	logger.Plain().WithField("addr", addr).Info("fake-relayer listening")
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("server stopped")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
