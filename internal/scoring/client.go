package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/secureflow/secureflow/internal/logging"
	"github.com/secureflow/secureflow/internal/metrics"
)

// maxResponseSize caps how much of the scorer response we read (64KB).
const maxResponseSize = 64 << 10

// Client is an HTTP client for the fraud-scoring service.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout overrides the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.http.Timeout = d
	}
}

// NewClient creates a scoring client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// scoreRequest matches the scoring service's wire format.
type scoreRequest struct {
	FromWallet string  `json:"from_wallet"`
	ToWallet   string  `json:"to_wallet"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
}

type scoreResponse struct {
	RiskScore   float64 `json:"risk_score"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Compile-time interface check
var _ Scorer = (*Client)(nil)

// Score submits a transfer to the scoring service. It never returns an
// error: all failure modes collapse to an unavailable result, logged with
// the reason. Retry policy, if any, belongs to the caller.
func (c *Client) Score(ctx context.Context, t Transfer) Result {
	payload, err := json.Marshal(scoreRequest{
		FromWallet: t.FromWallet,
		ToWallet:   t.ToWallet,
		Amount:     t.Amount,
		Currency:   t.Currency,
	})
	if err != nil {
		c.unavailable(ctx, fmt.Sprintf("marshal request: %v", err))
		return Unavailable()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict-risk", bytes.NewReader(payload))
	if err != nil {
		c.unavailable(ctx, fmt.Sprintf("build request: %v", err))
		return Unavailable()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.unavailable(ctx, fmt.Sprintf("request failed: %v", err))
		return Unavailable()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.unavailable(ctx, fmt.Sprintf("status %d", resp.StatusCode))
		return Unavailable()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.unavailable(ctx, fmt.Sprintf("read response: %v", err))
		return Unavailable()
	}

	var sr scoreResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		c.unavailable(ctx, fmt.Sprintf("malformed response: %v", err))
		return Unavailable()
	}

	// A score outside [0, 1] violates the scorer contract; treat it the same
	// as an unreachable service rather than deciding on bad data.
	if sr.RiskScore < 0 || sr.RiskScore > 1 {
		c.unavailable(ctx, fmt.Sprintf("risk_score out of range: %v", sr.RiskScore))
		return Unavailable()
	}

	return Scored(sr.RiskScore, sr.Confidence, sr.Explanation)
}

// Healthy probes the scoring service's health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scoring service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) unavailable(ctx context.Context, reason string) {
	metrics.ScoringUnavailableTotal.Inc()
	logging.L(ctx).Warn("scoring service unavailable", "reason", reason)
}
