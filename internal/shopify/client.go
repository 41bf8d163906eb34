// Package shopify is a minimal client for the Shopify Admin GraphQL API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/behold/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotConfigured is returned when the store name or admin token is missing.
var ErrNotConfigured = errors.New("shopify: SHOPIFY_STORE and SHOPIFY_ADMIN_TOKEN are required")

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string `json:"message"`
}

// GraphQLErrors is returned when the API answers 200 with an "errors" array.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ge := range e {
		msgs = append(msgs, ge.Message)
	}
	return "shopify: GraphQL errors: " + strings.Join(msgs, "; ")
}

// Client calls the Admin GraphQL endpoint of one store.
type Client struct {
	store    string
	token    string
	version  string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithEndpoint overrides the GraphQL URL derived from the store name.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a client from the Shopify configuration.
func NewClient(cfg config.ShopifyConfig, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	store := strings.TrimSuffix(strings.TrimSpace(cfg.Store), ".myshopify.com")
	c := &Client{
		store:   store,
		token:   cfg.AdminToken,
		version: cfg.APIVersion,
		client: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
	if store != "" {
		c.endpoint = fmt.Sprintf("https://%s.myshopify.com/admin/api/%s/graphql.json", store, c.version)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client has enough to make a call.
func (c *Client) Configured() bool {
	return c.store != "" && c.token != "" && c.endpoint != ""
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors GraphQLErrors   `json:"errors"`
}

// Query runs a GraphQL document and decodes its "data" object into out.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("shopify: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("shopify: request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("shopify: failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("shopify: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var gr graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("shopify: decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return gr.Errors
	}
	if out == nil || len(gr.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("shopify: decode data: %w", err)
	}
	return nil
}

// Shop is the subset of store details used for diagnostics.
type Shop struct {
	Name            string `json:"name"`
	MyshopifyDomain string `json:"myshopifyDomain"`
	CurrencyCode    string `json:"currencyCode"`
	PrimaryDomain   struct {
		URL string `json:"url"`
	} `json:"primaryDomain"`
}

const shopInfoQuery = `query ShopInfo {
  shop {
    name
    myshopifyDomain
    currencyCode
    primaryDomain { url }
  }
}`

// ShopInfo fetches basic store details.
func (c *Client) ShopInfo(ctx context.Context) (*Shop, error) {
	var data struct {
		Shop Shop `json:"shop"`
	}
	if err := c.Query(ctx, shopInfoQuery, nil, &data); err != nil {
		return nil, err
	}
	return &data.Shop, nil
}

// Store connection states reported by Probe.
const (
	StatusConnected    = "connected"
	StatusUnconfigured = "unconfigured"
	StatusError        = "error"
)

// Status is the result of one store probe, rendered by /debug/shopify.
type Status struct {
	ShopifyStatus string `json:"shopify_status"`
	Store         string `json:"store,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
	Shop          *Shop  `json:"shop,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Probe runs ShopInfo and folds the outcome into a Status.
func (c *Client) Probe(ctx context.Context) Status {
	status := Status{Store: c.store, APIVersion: c.version}
	if !c.Configured() {
		status.ShopifyStatus = StatusUnconfigured
		status.Error = ErrNotConfigured.Error()
		return status
	}

	shop, err := c.ShopInfo(ctx)
	if err != nil {
		c.logger.Warn("Shopify probe failed", "store", c.store, "error", err)
		status.ShopifyStatus = StatusError
		status.Error = err.Error()
		return status
	}
	status.ShopifyStatus = StatusConnected
	status.Shop = shop
	return status
}
