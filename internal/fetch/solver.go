package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SolverMaxTimeoutMillis is the budget passed to the challenge solver for a
// single upstream fetch.
const SolverMaxTimeoutMillis = 15000

// SolverClient talks to a FlareSolverr instance, which executes upstream GET
// requests through a real browser to pass anti-bot challenges.
type SolverClient struct {
	endpoint   string
	client     *http.Client
	maxRetries int
}

// NewSolverClient builds a client for the solver at address:port.
func NewSolverClient(address string, port int, timeout time.Duration, maxRetries int) *SolverClient {
	return &SolverClient{
		endpoint:   fmt.Sprintf("http://%s:%d/v1", address, port),
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// solverRequest is the command envelope the solver accepts.
type solverRequest struct {
	Cmd        string            `json:"cmd"`
	URL        string            `json:"url"`
	MaxTimeout int               `json:"maxTimeout"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// solverResult is the envelope the solver replies with.
type solverResult struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		Status   int    `json:"status"`
		Response string `json:"response"`
	} `json:"solution"`
}

// Get fetches rawURL through the solver. Query params are encoded into the
// URL; headers are forwarded to the upstream request. Transient failures are
// retried with exponential backoff up to the configured attempt count.
func (c *SolverClient) Get(ctx context.Context, rawURL string, headers map[string]string, params url.Values) (Response, error) {
	target := rawURL
	if len(params) > 0 {
		target = rawURL + "?" + params.Encode()
	}
	payload, err := json.Marshal(solverRequest{
		Cmd:        "request.get",
		URL:        target,
		MaxTimeout: SolverMaxTimeoutMillis,
		Headers:    headers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal solver request: %w", err)
	}

	slog.Debug("SolverClient.Get: requesting", "url", target)

	var resp Response
	operation := func() error {
		body, err := c.post(ctx, payload)
		if err != nil {
			slog.Warn("SolverClient.Get: attempt failed", "url", target, "error", err)
			return err
		}
		resp = NewSolverResponse(body)
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("solver request failed for %s: %w", target, err)
	}
	return resp, nil
}

// post performs a single solver round trip and unwraps the solution body.
func (c *SolverClient) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("solver unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return "", fmt.Errorf("solver returned status %d: %s", httpResp.StatusCode, body)
	}

	var result solverResult
	if err := json.NewDecoder(httpResp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode solver envelope: %w", err)
	}
	if result.Status != "ok" {
		return "", fmt.Errorf("solver reported failure: %s", result.Message)
	}
	return result.Solution.Response, nil
}
