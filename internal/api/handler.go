// Package api provides HTTP handlers for the Behold API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/behold/internal/agent"
	"github.com/ashureev/behold/internal/assistant"
	"github.com/ashureev/behold/internal/bridge"
	"github.com/ashureev/behold/internal/domain"
	"github.com/ashureev/behold/internal/shopify"
	"github.com/go-chi/chi/v5"
)

// ServiceName is reported by the liveness routes.
const ServiceName = "Behold WhatsApp Shopify Agent"

const maxMessageBytes = 1 << 20

// MessageProcessor is the reply pipeline behind the webhook.
type MessageProcessor interface {
	Process(ctx context.Context, msg domain.IncomingMessage) (domain.OutboundReply, error)
	TestAgent(ctx context.Context) assistant.TestAgentReport
	AgentAvailability() agent.Availability
}

// BridgeProber checks the messaging bridge.
type BridgeProber interface {
	Probe(ctx context.Context) bridge.Status
}

// ShopProber checks the store API.
type ShopProber interface {
	Probe(ctx context.Context) shopify.Status
}

// EnvPresence reports which credential variables are set.
type EnvPresence interface {
	Presence() map[string]bool
}

// Handler serves every Behold route.
type Handler struct {
	processor    MessageProcessor
	bridge       BridgeProber
	shop         ShopProber
	env          EnvPresence
	probeTimeout time.Duration
	logger       *slog.Logger
}

// Options holds the dependencies of a Handler.
type Options struct {
	Processor    MessageProcessor
	Bridge       BridgeProber
	Shop         ShopProber
	Env          EnvPresence
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	return &Handler{
		processor:    opts.Processor,
		bridge:       opts.Bridge,
		shop:         opts.Shop,
		env:          opts.Env,
		probeTimeout: opts.ProbeTimeout,
		logger:       opts.Logger,
	}
}

// RegisterRoutes registers all routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	r.Route("/debug", func(r chi.Router) {
		r.Get("/app", h.DebugApp)
		r.Get("/bridge", h.DebugBridge)
		r.Get("/shopify", h.DebugShopify)
	})

	r.Post("/process-whatsapp-message", h.ProcessMessage)
	r.Post("/test-message", h.TestMessage)
	r.Post("/test-agent", h.TestAgent)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Root confirms the process is up.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"message": ServiceName + " is running"})
}

// Health is the liveness check. It touches no dependency.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// DebugApp reports agent availability and credential presence, never values.
func (h *Handler) DebugApp(w http.ResponseWriter, _ *http.Request) {
	availability := h.processor.AgentAvailability()
	mode := "fallback_mode"
	if availability.IsAvailable() {
		mode = "enabled"
	}

	envVars := map[string]bool{}
	if h.env != nil {
		envVars = h.env.Presence()
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"app_status":       "running",
		"agent_available":  availability.IsAvailable(),
		"agent_backend":    availability.Kind(),
		"environment_vars": envVars,
		"agent_mode":       mode,
	})
}

// DebugBridge probes the messaging bridge. The probe outcome is in the body;
// the status code is always 200.
func (h *Handler) DebugBridge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.probeTimeout)
	defer cancel()

	JSON(w, http.StatusOK, h.bridge.Probe(ctx))
}

// DebugShopify probes the store Admin API.
func (h *Handler) DebugShopify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.probeTimeout)
	defer cancel()

	JSON(w, http.StatusOK, h.shop.Probe(ctx))
}

// ProcessMessage is the bridge webhook.
func (h *Handler) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.IncomingMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		h.logger.Error("Error processing WhatsApp message", "stage", "decode", "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	reply, err := h.processor.Process(r.Context(), msg)
	if err != nil {
		var missing *domain.MissingFieldsError
		if errors.As(err, &missing) {
			h.logger.Warn("Rejected WhatsApp message", "error", err)
			Error(w, http.StatusBadRequest, missing.Error())
			return
		}
		h.logger.Error("Error processing WhatsApp message", "user_id", msg.SenderID, "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	JSON(w, http.StatusOK, reply)
}

// TestMessage lets the bridge verify connectivity without any processing.
func (h *Handler) TestMessage(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"reply": "Test message received successfully!"})
}

// TestAgent runs the fixed probe query against the primary agent only.
func (h *Handler) TestAgent(w http.ResponseWriter, r *http.Request) {
	report := h.processor.TestAgent(r.Context())

	if !report.Available {
		JSON(w, http.StatusOK, map[string]interface{}{
			"error":           "Agent not available",
			"agent_available": false,
		})
		return
	}

	if !report.Success {
		msg := "unknown error"
		if report.Err != nil {
			msg = report.Err.Error()
		}
		JSON(w, http.StatusOK, map[string]interface{}{
			"success":         false,
			"error":           "Agent test failed: " + msg,
			"agent_available": true,
		})
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"agent_response":  report.Response,
		"agent_available": true,
		"test_input":      report.Input,
	})
}
