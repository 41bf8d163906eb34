package agent

import (
	"context"
	"log/slog"

	"github.com/ashureev/behold/internal/config"
	"google.golang.org/grpc"
)

// Availability is the primary backend as resolved at startup.
// It is immutable and safe to share between requests.
type Availability struct {
	backend Backend
	reason  string
}

// Available wraps a usable backend.
func Available(b Backend) Availability {
	if b == nil {
		return Unavailable("no backend")
	}
	return Availability{backend: b}
}

// Unavailable records why no backend could be resolved.
func Unavailable(reason string) Availability {
	return Availability{reason: reason}
}

// Backend returns the resolved backend, if any.
func (a Availability) Backend() (Backend, bool) {
	return a.backend, a.backend != nil
}

// IsAvailable reports whether a backend was resolved.
func (a Availability) IsAvailable() bool {
	return a.backend != nil
}

// Reason explains an unavailable backend. Empty when available.
func (a Availability) Reason() string {
	return a.reason
}

// Describe returns the backend name or the unavailability reason.
func (a Availability) Describe() string {
	if a.backend != nil {
		return a.backend.Name()
	}
	return a.reason
}

// Kind returns the backend kind or the unavailability reason. Unlike
// Describe it never carries the backend address.
func (a Availability) Kind() string {
	if a.backend != nil {
		return a.backend.Kind()
	}
	return a.reason
}

// Close releases the backend, if any.
func (a Availability) Close() {
	if a.backend != nil {
		a.backend.Close()
	}
}

// Resolve connects to the configured agent service once.
// Failures are logged and produce an Unavailable value rather than an error.
func Resolve(ctx context.Context, cfg config.AgentConfig, logger *slog.Logger, opts ...grpc.DialOption) Availability {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		logger.Info("Agent backend disabled, replies will use fallback mode", "reason", "AGENT_ADDR not set")
		return Unavailable("AGENT_ADDR not set")
	}

	gc := DefaultGrpcClientConfig()
	gc.Address = cfg.Address
	if cfg.ConnectTimeout > 0 {
		gc.ConnectTimeout = cfg.ConnectTimeout
	}

	client, err := NewGrpcClient(ctx, gc, logger, opts...)
	if err != nil {
		logger.Warn("Failed to connect to agent service, replies will use fallback mode", "address", cfg.Address, "error", err)
		return Unavailable("agent service not reachable")
	}
	return Available(client)
}
