// Package config provides application configuration.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

// Credential environment variable names reported by /debug/app.
const (
	EnvShopifyStore           = "SHOPIFY_STORE"
	EnvShopifyAdminToken      = "SHOPIFY_ADMIN_TOKEN"
	EnvShopifyStorefrontToken = "SHOPIFY_STOREFRONT_TOKEN"
	EnvBridgeURL              = "WHATSAPP_BRIDGE_URL"
	EnvGoogleAPIKey           = "GOOGLE_API_KEY"
)

// DefaultBridgeURL is used when WHATSAPP_BRIDGE_URL is not set.
const DefaultBridgeURL = "http://localhost:3001"

// DefaultAgentConnectTimeout bounds the startup readiness check of the agent.
const DefaultAgentConnectTimeout = 5 * time.Second

// Config holds all application configuration.
type Config struct {
	Host  string
	Port  string
	Debug bool

	Shopify  ShopifyConfig
	Bridge   BridgeConfig
	Agent    AgentConfig
	Fallback FallbackConfig
	Tracing  TracingConfig

	// present records which credential variables were set in the environment,
	// independent of any default substituted for them.
	present  map[string]bool
	warnings []string
}

// ShopifyConfig holds store identity and API credentials.
type ShopifyConfig struct {
	Store           string
	AdminToken      string
	StorefrontToken string
	APIVersion      string
}

// BridgeConfig holds the messaging bridge location.
type BridgeConfig struct {
	URL          string
	ProbeTimeout time.Duration
}

// AgentConfig controls the primary agent backend.
type AgentConfig struct {
	// Address is the gRPC address of the agent service. Empty disables the agent.
	Address        string
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// FallbackConfig controls the secondary text-generation backend.
type FallbackConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string
	ServiceName string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Host:  getEnv("HOST", "0.0.0.0"),
		Port:  getEnv("PORT", "8080"),
		Debug: getEnvBool("DEBUG", false),
		Shopify: ShopifyConfig{
			Store:           os.Getenv(EnvShopifyStore),
			AdminToken:      os.Getenv(EnvShopifyAdminToken),
			StorefrontToken: os.Getenv(EnvShopifyStorefrontToken),
			APIVersion:      getEnv("SHOPIFY_API_VERSION", "2025-07"),
		},
		Bridge: BridgeConfig{
			URL:          strings.TrimRight(getEnv(EnvBridgeURL, DefaultBridgeURL), "/"),
			ProbeTimeout: getEnvDuration("BRIDGE_PROBE_TIMEOUT", 10*time.Second),
		},
		Agent: AgentConfig{
			Address:        strings.TrimSpace(os.Getenv("AGENT_ADDR")),
			ConnectTimeout: getEnvDuration("AGENT_CONNECT_TIMEOUT", DefaultAgentConnectTimeout),
			Timeout:        getEnvDuration("AGENT_TIMEOUT", 120*time.Second),
		},
		Fallback: FallbackConfig{
			APIKey:  os.Getenv(EnvGoogleAPIKey),
			Model:   getEnv("FALLBACK_MODEL", "gemini-2.0-flash"),
			BaseURL: strings.TrimRight(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"), "/"),
			Timeout: getEnvDuration("FALLBACK_TIMEOUT", 30*time.Second),
		},
		Tracing: TracingConfig{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "behold"),
		},
		present: make(map[string]bool, len(CredentialVars)),
	}

	for _, name := range CredentialVars {
		cfg.present[name] = os.Getenv(name) != ""
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// CredentialVars lists the variables whose presence is reported, in display order.
var CredentialVars = []string{
	EnvShopifyStore,
	EnvShopifyAdminToken,
	EnvShopifyStorefrontToken,
	EnvBridgeURL,
	EnvGoogleAPIKey,
}

// Validate checks settings the process cannot start without.
// Missing credentials are not errors; they surface as degraded features.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	return nil
}

// Warnings reports settings that were unusable. None of them stop startup:
// a bad bridge URL shows up as an error from the bridge probe, and a bad
// connect timeout was replaced with its default.
func (c *Config) Warnings() []string {
	return c.warnings
}

func (c *Config) normalize() {
	u, err := url.Parse(c.Bridge.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		c.warnings = append(c.warnings, fmt.Sprintf("%s should be an absolute URL, got %q", EnvBridgeURL, c.Bridge.URL))
	}
	if c.Agent.ConnectTimeout <= 0 {
		c.warnings = append(c.warnings, fmt.Sprintf("AGENT_CONNECT_TIMEOUT must be > 0, using %s", DefaultAgentConnectTimeout))
		c.Agent.ConnectTimeout = DefaultAgentConnectTimeout
	}
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Presence reports, for each credential variable, whether it was set.
// Values are never exposed.
func (c *Config) Presence() map[string]bool {
	out := make(map[string]bool, len(CredentialVars))
	for _, name := range CredentialVars {
		out[name] = c.present[name]
	}
	return out
}

// Missing returns the credential variables that were not set, in display order.
func (c *Config) Missing() []string {
	var missing []string
	for _, name := range CredentialVars {
		if !c.present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
