package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/jpillora/backoff"

	"github.com/gridshare/energy-bpp/bpp"
)

var (
	// ErrAuthenticationFailed is returned when the ledger rejects our signature.
	ErrAuthenticationFailed = errors.New("ledger authentication failed")
	ErrRecordNotFound       = errors.New("ledger record not found")
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	retries    int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(cfg bpp.LedgerConfig, signer *Signer) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		retries:    cfg.RetryCount,
		baseDelay:  cfg.RetryDelay(),
		maxDelay:   30 * time.Second,
	}
}

// GetRecord fetches the ledger's record of a transaction.
func (c *Client) GetRecord(ctx context.Context, transactionID string) (*Record, error) {
	records, err := c.QueryTrades(ctx, TradeQuery{TransactionID: transactionID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, transactionID)
	}
	return &records[0], nil
}

func (c *Client) QueryTrades(ctx context.Context, query TradeQuery) ([]Record, error) {
	var resp queryResponse
	if err := c.Do(ctx, http.MethodPost, "/ledger/get", query, &resp); err != nil {
		return nil, fmt.Errorf("failed to query ledger trades: %w", err)
	}
	return resp.Records, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	start := time.Now()
	var health Health
	if err := c.Do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, fmt.Errorf("failed to check ledger health: %w", err)
	}
	health.Latency = time.Since(start)
	return &health, nil
}

// Do sends a signed request and decodes the JSON response into out.
// Transient failures are retried with exponential backoff; 401 and 403
// stop immediately with ErrAuthenticationFailed.
func (c *Client) Do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to marshal ledger request: %w", err)
		}
	}

	b := &backoff.Backoff{
		Min:    c.baseDelay,
		Max:    c.maxDelay,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !retryable(err) || int(b.Attempt()) >= c.retries {
			return err
		}

		delay := b.Duration()
		slog.Warn("Ledger call failed, retrying",
			slog.String("type", "ledger"),
			slog.String("path", path),
			slog.Float64("attempt", b.Attempt()),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.signer != nil {
		req.Header.Set("Authorization", c.signer.Sign(body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read ledger response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrAuthenticationFailed, resp.StatusCode, string(respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}
