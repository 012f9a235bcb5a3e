// Package relayer is the HTTP client for the transaction relaying service.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/austindbirch/relay_load/internal/tracing"
)

const maxErrorBody = 4 << 10

// TokenSource supplies a bearer token per request.
type TokenSource interface {
	Token() (string, error)
}

// JobStatus is the relayer's view of an asynchronous job. Elapsed is absent
// while the job is still pending.
type JobStatus struct {
	State   string  `json:"state"`
	TxHash  *string `json:"txHash"`
	Created int64   `json:"created"` // unix milliseconds
	Elapsed *int64  `json:"elapsed"` // milliseconds
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

type Option func(*Client)

// WithTokenSource attaches an Authorization: Bearer header to every request.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithHTTPClient replaces the underlying client. Its timeout is overwritten.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a client for the relayer at baseURL. Every call is bounded
// by timeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Timeout = timeout
	return c
}

// Submit posts one transaction body and returns the job id the relayer
// assigned to it. The body is sent unmodified.
func (c *Client) Submit(ctx context.Context, body []byte) (uint32, error) {
	url := c.baseURL + "/transaction"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, &SubmissionError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, status, err := c.do(req)
	if err != nil {
		return 0, &SubmissionError{URL: url, Err: err}
	}
	if status != http.StatusOK {
		return 0, &NonOKError{Op: "submit", Status: status, Body: truncate(respBody)}
	}

	var sr submitResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return 0, &DecodeError{Op: "submit", Body: truncate(respBody), Err: err}
	}
	id, err := strconv.ParseUint(sr.JobID, 10, 32)
	if err != nil {
		return 0, &DecodeError{Op: "submit", Body: truncate(respBody), Err: fmt.Errorf("jobId: %w", err)}
	}
	return uint32(id), nil
}

// JobStatus fetches the current state of a job. Results are never cached.
func (c *Client) JobStatus(ctx context.Context, jobID uint32) (JobStatus, error) {
	url := fmt.Sprintf("%s/job/%d", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return JobStatus{}, &SubmissionError{URL: url, Err: err}
	}

	respBody, status, err := c.do(req)
	if err != nil {
		return JobStatus{}, &SubmissionError{URL: url, Err: err}
	}
	if status != http.StatusOK {
		return JobStatus{}, &NonOKError{Op: "job", Status: status, Body: truncate(respBody)}
	}

	var js JobStatus
	if err := json.Unmarshal(respBody, &js); err != nil {
		return JobStatus{}, &DecodeError{Op: "job", Body: truncate(respBody), Err: err}
	}
	return js, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, 0, fmt.Errorf("bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	tracing.InjectHTTP(req.Context(), req.Header)
	if traceID := tracing.GetTraceID(req.Context()); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return b, resp.StatusCode, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}
