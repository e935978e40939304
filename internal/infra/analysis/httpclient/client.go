package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/himeshgonnade/chronosscan/internal/domain/analysis"
	"github.com/himeshgonnade/chronosscan/internal/domain/faults"
)

const defaultTimeout = 30 * time.Second

// Client talks to the external anomaly-analysis service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ analysis.Client = (*Client)(nil)

// NewClient creates a reusable client. timeout bounds each Analyze call;
// zero means the 30s default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Analyze performs one POST to /analyze. No retries; failures come back as
// one of the faults sentinels so the orchestrator can log the kind and move
// on without blocking the upload response.
func (c *Client) Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return analysis.Result{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return analysis.Result{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return analysis.Result{}, fmt.Errorf("analysis status %s: %w", resp.Status, faults.ErrInvalidResponse)
	}

	var out analysis.Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return analysis.Result{}, fmt.Errorf("decode analysis response (%v): %w", err, faults.ErrInvalidResponse)
	}
	return out, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("analysis call: %w", faults.ErrTimeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("analysis call: %w", faults.ErrTimeout)
	}
	return fmt.Errorf("analysis call (%v): %w", err, faults.ErrUnreachable)
}
