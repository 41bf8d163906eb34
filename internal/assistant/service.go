// Package assistant turns an inbound chat message into a reply, trying the
// primary agent first and falling back when it cannot answer.
package assistant

import (
	"context"
	"log/slog"

	"github.com/ashureev/behold/internal/agent"
	"github.com/ashureev/behold/internal/domain"
	"github.com/ashureev/behold/internal/fallback"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ashureev/behold/internal/assistant"

// Service runs the reply pipeline for one message at a time.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	invoker  *agent.Invoker
	fallback *fallback.Responder
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewService creates the reply pipeline.
func NewService(invoker *agent.Invoker, responder *fallback.Responder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		invoker:  invoker,
		fallback: responder,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// AgentAvailability returns the primary backend resolved at startup.
func (s *Service) AgentAvailability() agent.Availability {
	return s.invoker.Availability()
}

// Process validates msg and always produces a reply for a valid message.
// The only error it returns is *domain.MissingFieldsError.
func (s *Service) Process(ctx context.Context, msg domain.IncomingMessage) (domain.OutboundReply, error) {
	if err := msg.Validate(); err != nil {
		return domain.OutboundReply{}, err
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	// A started backend call runs to completion even if the bridge hangs up.
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "assistant.Process", trace.WithAttributes(
		attribute.String("behold.user_id", msg.SenderID),
		attribute.String("behold.message_id", msg.MessageID),
	))
	defer span.End()

	logger := s.logger.With("user_id", msg.SenderID, "message_id", msg.MessageID)
	logger.Info("Processing message", "message_length", len(msg.Body))

	res := s.primary(ctx, msg)
	switch res.Outcome {
	case agent.OutcomeReplied:
		logger.Info("Agent replied", "stage", domain.SourceAgent, "fragments", res.Fragments, "reply_length", len(res.Reply))
		span.SetAttributes(attribute.String("behold.reply_source", string(domain.SourceAgent)))
		return domain.OutboundReply{Reply: res.Reply, Source: domain.SourceAgent}, nil
	case agent.OutcomeUnavailable:
		logger.Info("Agent not available, using fallback", "reason", res.Err)
	default:
		logger.Error("Agent processing failed, using fallback", "error", res.Err)
	}

	reply := s.secondary(ctx, msg.Body, res.Err)
	logger.Info("Fallback replied", "stage", reply.Source, "reply_length", len(reply.Reply))
	span.SetAttributes(attribute.String("behold.reply_source", string(reply.Source)))
	return reply, nil
}

func (s *Service) primary(ctx context.Context, msg domain.IncomingMessage) agent.Result {
	ctx, span := s.tracer.Start(ctx, "agent.Invoke")
	defer span.End()

	res := s.invoker.Invoke(ctx, msg)
	span.SetAttributes(
		attribute.String("behold.outcome", res.Outcome.String()),
		attribute.Int("behold.fragments", res.Fragments),
	)
	if res.Outcome == agent.OutcomeFailed {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "agent invocation failed")
	}
	return res
}

func (s *Service) secondary(ctx context.Context, body string, reason error) domain.OutboundReply {
	ctx, span := s.tracer.Start(ctx, "fallback.Respond")
	defer span.End()

	return s.fallback.Respond(ctx, body, reason)
}

// TestAgentReport is the outcome of a canned agent probe.
type TestAgentReport struct {
	Available bool
	Success   bool
	Response  string
	Input     string
	Err       error
}

// TestAgent sends the fixed probe query to the primary agent only.
// The fallback chain is never involved.
func (s *Service) TestAgent(ctx context.Context) TestAgentReport {
	ctx, span := s.tracer.Start(ctx, "assistant.TestAgent")
	defer span.End()

	res, input := s.invoker.Probe(ctx)
	report := TestAgentReport{
		Available: res.Outcome != agent.OutcomeUnavailable,
		Success:   res.Outcome == agent.OutcomeReplied,
		Response:  res.Reply,
		Input:     input,
		Err:       res.Err,
	}
	if report.Success {
		s.logger.Info("Agent test succeeded", "reply_length", len(res.Reply))
	} else {
		s.logger.Warn("Agent test did not succeed", "outcome", res.Outcome.String(), "error", res.Err)
	}
	return report
}
