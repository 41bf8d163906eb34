// Package bridge checks the health of the WhatsApp messaging bridge.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Bridge connection states reported by Probe.
const (
	StatusConnected    = "connected"
	StatusError        = "error"
	StatusDisconnected = "disconnected"
)

const maxResponseText = 2048

// Status is the result of one health probe. It is rendered as-is by /debug/bridge.
type Status struct {
	BridgeStatus   string          `json:"bridge_status"`
	BridgeURL      string          `json:"bridge_url"`
	BridgeResponse json.RawMessage `json:"bridge_response,omitempty"`
	StatusCode     int             `json:"status_code,omitempty"`
	ResponseText   string          `json:"response_text,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Client probes {baseURL}/health.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a bridge client. A nil httpClient gets a traced client
// bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		logger:  logger,
	}
}

// URL returns the configured bridge base URL.
func (c *Client) URL() string { return c.baseURL }

// Probe performs one GET against the bridge health endpoint.
// It never returns an error; every failure is folded into the Status.
func (c *Client) Probe(ctx context.Context) Status {
	status := Status{BridgeURL: c.baseURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		status.BridgeStatus = StatusError
		status.Error = fmt.Sprintf("Failed to check bridge: %v", err)
		return status
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isConnectionError(err) {
			c.logger.Warn("Bridge not reachable", "bridge_url", c.baseURL, "error", err)
			status.BridgeStatus = StatusDisconnected
			status.Error = fmt.Sprintf("Cannot connect to WhatsApp bridge at %s. Is the bridge server running?", c.baseURL)
			return status
		}
		c.logger.Warn("Bridge probe failed", "bridge_url", c.baseURL, "error", err)
		status.BridgeStatus = StatusError
		status.Error = fmt.Sprintf("Failed to check bridge: %v", err)
		return status
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close bridge response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		status.BridgeStatus = StatusError
		status.StatusCode = resp.StatusCode
		status.Error = fmt.Sprintf("Failed to check bridge: %v", err)
		return status
	}

	if resp.StatusCode != http.StatusOK {
		status.BridgeStatus = StatusError
		status.StatusCode = resp.StatusCode
		status.Error = fmt.Sprintf("Bridge returned status %d", resp.StatusCode)
		status.ResponseText = truncate(string(body), maxResponseText)
		return status
	}

	if !json.Valid(body) {
		status.BridgeStatus = StatusError
		status.StatusCode = resp.StatusCode
		status.Error = "Failed to check bridge: response is not valid JSON"
		status.ResponseText = truncate(string(body), maxResponseText)
		return status
	}

	status.BridgeStatus = StatusConnected
	status.BridgeResponse = json.RawMessage(body)
	return status
}

// isConnectionError reports whether err means no HTTP exchange with the
// bridge took place: name resolution, connect (including connect timeouts),
// or the peer refusing or resetting the connection.
func isConnectionError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
