package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/behold/internal/domain"
)

// userMessagePrefix separates raw customer text from the agent's own framing.
const userMessagePrefix = "User message: "

// ProbeQuery is the fixed query used to exercise the agent outside real traffic.
const ProbeQuery = "What products do you have?"

// Outcome tags the result of a primary attempt.
type Outcome int

const (
	// OutcomeReplied means the stream was drained; Reply may be empty.
	OutcomeReplied Outcome = iota
	// OutcomeUnavailable means no backend was resolved, so none was called.
	OutcomeUnavailable
	// OutcomeFailed means the backend was called and raised.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one primary attempt.
type Result struct {
	Outcome   Outcome
	Reply     string
	Fragments int
	// Err explains OutcomeUnavailable and OutcomeFailed. It is for logs only.
	Err error
}

// Invoker runs exactly one agent attempt per message.
type Invoker struct {
	availability Availability
	timeout      time.Duration
	logger       *slog.Logger
}

// NewInvoker creates an invoker over a resolved backend.
// A zero timeout leaves the backend's own limits in charge.
func NewInvoker(availability Availability, timeout time.Duration, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		availability: availability,
		timeout:      timeout,
		logger:       logger,
	}
}

// Availability returns the backend resolved at startup.
func (i *Invoker) Availability() Availability {
	return i.availability
}

// Invoke sends the message body to the agent and concatenates every
// non-empty text fragment in arrival order. Failures never escape: they
// come back as OutcomeUnavailable or OutcomeFailed.
func (i *Invoker) Invoke(ctx context.Context, msg domain.IncomingMessage) Result {
	backend, ok := i.availability.Backend()
	if !ok {
		return Result{
			Outcome: OutcomeUnavailable,
			Err:     fmt.Errorf("%w: %s", ErrUnavailable, i.availability.Reason()),
		}
	}

	return i.run(ctx, backend, RunRequest{
		UserID:      msg.SenderID,
		SessionID:   msg.SenderID,
		MessageID:   msg.MessageID,
		Message:     userMessagePrefix + msg.Body,
		Instruction: Instruction,
	})
}

// Probe runs the fixed ProbeQuery and returns the framed input it sent.
func (i *Invoker) Probe(ctx context.Context) (Result, string) {
	input := userMessagePrefix + ProbeQuery

	backend, ok := i.availability.Backend()
	if !ok {
		return Result{
			Outcome: OutcomeUnavailable,
			Err:     fmt.Errorf("%w: %s", ErrUnavailable, i.availability.Reason()),
		}, input
	}

	return i.run(ctx, backend, RunRequest{
		UserID:      "test-agent",
		SessionID:   "test-agent",
		Message:     input,
		Instruction: Instruction,
	}), input
}

func (i *Invoker) run(ctx context.Context, backend Backend, req RunRequest) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Outcome: OutcomeFailed,
				Err:     fmt.Errorf("%w: panic: %v", ErrFailed, r),
			}
		}
	}()

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	var reply strings.Builder
	fragments := 0
	for event, err := range backend.Run(ctx, req) {
		if err != nil {
			return Result{
				Outcome:   OutcomeFailed,
				Reply:     reply.String(),
				Fragments: fragments,
				Err:       fmt.Errorf("%w: %w", ErrFailed, err),
			}
		}
		if event == nil || event.Text == "" {
			continue
		}
		fragments++
		reply.WriteString(event.Text)
	}

	i.logger.Debug("Agent stream drained",
		"backend", backend.Name(),
		"user_id", req.UserID,
		"fragments", fragments,
		"reply_length", reply.Len(),
	)

	return Result{
		Outcome:   OutcomeReplied,
		Reply:     reply.String(),
		Fragments: fragments,
	}
}
