package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
)

// ErrEmptyResponse is returned when the server closed without answering.
var ErrEmptyResponse = errors.New("empty status response")

// Client queries a status server. Each query uses a fresh connection.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// NewClient creates a client with a per-query timeout.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultIOTimeout
	}
	return &Client{Addr: addr, Timeout: timeout}
}

// Query performs one request/response exchange.
func (c *Client) Query(ctx context.Context) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, Request); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(conn, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyResponse
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// WaitReady queries until the server answers, trying at most attempts times
// with interval between tries.
func (c *Client) WaitReady(ctx context.Context, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		_, err := c.Query(ctx)
		if err == nil {
			logger.Info("StatusClient", "Detector ready at %s", c.Addr)
			return nil
		}
		lastErr = err
		logger.Info("StatusClient", "Waiting for detector at %s (%d/%d)", c.Addr, i, attempts)

		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("detector not ready after %d attempts: %w", attempts, lastErr)
}
