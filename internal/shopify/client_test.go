package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ashureev/behold/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.ShopifyConfig {
	return config.ShopifyConfig{Store: "demo-store", AdminToken: "shpat_test", APIVersion: "2025-07"}
}

func newShopifyServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Shopify-Access-Token"); got != "shpat_test" {
			t.Errorf("Expected access token header, got %q", got)
		}
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Query == "" {
			t.Error("Expected a query")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_Endpoint(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Store = "demo-store.myshopify.com"
	c := NewClient(cfg, testLogger())
	want := "https://demo-store.myshopify.com/admin/api/2025-07/graphql.json"
	if c.endpoint != want {
		t.Errorf("Expected endpoint %s, got %s", want, c.endpoint)
	}
}

func TestShopInfo(t *testing.T) {
	t.Parallel()

	srv := newShopifyServer(t, http.StatusOK,
		`{"data":{"shop":{"name":"Demo","myshopifyDomain":"demo-store.myshopify.com","currencyCode":"USD","primaryDomain":{"url":"https://demo.example"}}}}`)
	c := NewClient(testConfig(), testLogger(), WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	shop, err := c.ShopInfo(context.Background())
	if err != nil {
		t.Fatalf("ShopInfo failed: %v", err)
	}
	if shop.Name != "Demo" || shop.CurrencyCode != "USD" || shop.PrimaryDomain.URL != "https://demo.example" {
		t.Errorf("Unexpected shop %+v", shop)
	}
}

func TestQuery_GraphQLErrors(t *testing.T) {
	t.Parallel()

	srv := newShopifyServer(t, http.StatusOK, `{"errors":[{"message":"Field 'nope' doesn't exist"}]}`)
	c := NewClient(testConfig(), testLogger(), WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	err := c.Query(context.Background(), "{ nope }", nil, nil)
	var gqlErrs GraphQLErrors
	if !errors.As(err, &gqlErrs) {
		t.Fatalf("Expected GraphQLErrors, got %v", err)
	}
	if !strings.Contains(err.Error(), "doesn't exist") {
		t.Errorf("Unexpected error text %q", err.Error())
	}
}

func TestQuery_HTTPError(t *testing.T) {
	t.Parallel()

	srv := newShopifyServer(t, http.StatusUnauthorized, `{"errors":"[API] Invalid API key or access token"}`)
	c := NewClient(testConfig(), testLogger(), WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	err := c.Query(context.Background(), "{ shop { name } }", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("Expected HTTP 401 error, got %v", err)
	}
}

func TestQuery_NotConfigured(t *testing.T) {
	t.Parallel()

	c := NewClient(config.ShopifyConfig{APIVersion: "2025-07"}, testLogger())
	if err := c.Query(context.Background(), "{ shop { name } }", nil, nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	t.Run("unconfigured", func(t *testing.T) {
		t.Parallel()
		status := NewClient(config.ShopifyConfig{}, testLogger()).Probe(context.Background())
		if status.ShopifyStatus != StatusUnconfigured {
			t.Errorf("Expected unconfigured, got %+v", status)
		}
	})

	t.Run("connected", func(t *testing.T) {
		t.Parallel()
		srv := newShopifyServer(t, http.StatusOK, `{"data":{"shop":{"name":"Demo"}}}`)
		status := NewClient(testConfig(), testLogger(), WithEndpoint(srv.URL), WithHTTPClient(srv.Client())).
			Probe(context.Background())
		if status.ShopifyStatus != StatusConnected || status.Shop == nil || status.Shop.Name != "Demo" {
			t.Errorf("Expected connected, got %+v", status)
		}
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		srv := newShopifyServer(t, http.StatusInternalServerError, `oops`)
		status := NewClient(testConfig(), testLogger(), WithEndpoint(srv.URL), WithHTTPClient(srv.Client())).
			Probe(context.Background())
		if status.ShopifyStatus != StatusError || status.Error == "" {
			t.Errorf("Expected error, got %+v", status)
		}
	})
}
