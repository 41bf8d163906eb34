// Package fallback produces replies when the primary agent cannot: first
// through a hosted text-generation model, then through a fixed template.
package fallback

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/behold/internal/domain"
)

// Generator produces text from a system prompt and a user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SystemPrompt frames the secondary model's role.
const SystemPrompt = "You are a helpful Shopify store assistant replying to customers on WhatsApp. " +
	"You help with product recommendations, guide customers through their cart and checkout, " +
	"and answer questions about shipping fees."

// EmptyReply replaces an empty model answer.
const EmptyReply = "Hello! I'm your Shopify assistant. How can I help you find products today?"

const (
	cannedPrefix = "Thanks for your message! I'm your Shopify assistant. You said: '"
	cannedSuffix = "'. How can I help you find products?"
)

// UserPrompt embeds the customer's message for the secondary model.
func UserPrompt(body string) string {
	return "User message: " + body + "\n\n" +
		"Reply to the customer with a concise, helpful answer in natural language."
}

// Canned is the last-resort reply. The body is treated as opaque text.
func Canned(body string) string {
	return cannedPrefix + body + cannedSuffix
}

// Responder runs the fallback chain. It never fails.
type Responder struct {
	gen    Generator
	logger *slog.Logger
}

// NewResponder creates a responder. A nil generator sends every message
// straight to the canned reply.
func NewResponder(gen Generator, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{gen: gen, logger: logger}
}

// Respond answers body after the primary path gave up for reason.
func (r *Responder) Respond(ctx context.Context, body string, reason error) domain.OutboundReply {
	r.logger.Info("Using fallback responder", "reason", errString(reason))

	if r.gen == nil {
		r.logger.Warn("No fallback generator configured, using canned reply")
		return domain.OutboundReply{Reply: Canned(body), Source: domain.SourceCanned}
	}

	text, err := r.gen.Generate(ctx, SystemPrompt, UserPrompt(body))
	if err != nil {
		r.logger.Warn("Fallback generator failed, using canned reply", "error", err)
		return domain.OutboundReply{Reply: Canned(body), Source: domain.SourceCanned}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return domain.OutboundReply{Reply: EmptyReply, Source: domain.SourceFallback}
	}
	return domain.OutboundReply{Reply: text, Source: domain.SourceFallback}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
