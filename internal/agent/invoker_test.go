package agent

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/behold/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBackend replays a scripted stream.
type fakeBackend struct {
	mu       sync.Mutex
	events   []*Event
	err      error // yielded after events
	startErr error // yielded before any event
	panicMsg string
	calls    int
	lastReq  RunRequest
	block    bool
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Kind() string { return "fake" }
func (f *fakeBackend) Close() {}

func (f *fakeBackend) Run(ctx context.Context, req RunRequest) iter.Seq2[*Event, error] {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()

	return func(yield func(*Event, error) bool) {
		if f.panicMsg != "" {
			panic(f.panicMsg)
		}
		if f.startErr != nil {
			yield(nil, f.startErr)
			return
		}
		for _, e := range f.events {
			if !yield(e, nil) {
				return
			}
		}
		if f.block {
			<-ctx.Done()
			yield(nil, ctx.Err())
			return
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func message(body string) domain.IncomingMessage {
	return domain.IncomingMessage{SenderID: "u1", Body: body, MessageID: "m1"}
}

func TestInvoke_ConcatenatesFragmentsInOrder(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{events: []*Event{
		{Text: "Hello, "},
		{Author: "behold_agent"},
		nil,
		{Text: "world!", Final: true},
	}}
	inv := NewInvoker(Available(backend), time.Second, testLogger())

	res := inv.Invoke(context.Background(), message("hi"))
	if res.Outcome != OutcomeReplied {
		t.Fatalf("Expected replied, got %s (%v)", res.Outcome, res.Err)
	}
	if res.Reply != "Hello, world!" {
		t.Errorf("Expected %q, got %q", "Hello, world!", res.Reply)
	}
	if res.Fragments != 2 {
		t.Errorf("Expected 2 fragments, got %d", res.Fragments)
	}
}

func TestInvoke_FramesUserMessage(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	inv := NewInvoker(Available(backend), 0, testLogger())
	inv.Invoke(context.Background(), message("Do you ship to Lagos?"))

	if backend.lastReq.Message != "User message: Do you ship to Lagos?" {
		t.Errorf("Unexpected framed message: %q", backend.lastReq.Message)
	}
	if backend.lastReq.UserID != "u1" || backend.lastReq.MessageID != "m1" {
		t.Errorf("Expected sender and message IDs forwarded, got %+v", backend.lastReq)
	}
	if backend.lastReq.Instruction != Instruction {
		t.Error("Expected instruction to be sent with the request")
	}
}

func TestInvoke_EmptyStreamIsAReply(t *testing.T) {
	t.Parallel()

	inv := NewInvoker(Available(&fakeBackend{events: []*Event{{Final: true}}}), 0, testLogger())

	res := inv.Invoke(context.Background(), message("hi"))
	if res.Outcome != OutcomeReplied {
		t.Fatalf("Expected replied, got %s", res.Outcome)
	}
	if res.Reply != "" || res.Err != nil {
		t.Errorf("Expected empty reply without error, got %q, %v", res.Reply, res.Err)
	}
}

func TestInvoke_UnavailableSkipsBackend(t *testing.T) {
	t.Parallel()

	inv := NewInvoker(Unavailable("AGENT_ADDR not set"), 0, testLogger())

	res := inv.Invoke(context.Background(), message("hi"))
	if res.Outcome != OutcomeUnavailable {
		t.Fatalf("Expected unavailable, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "AGENT_ADDR not set") {
		t.Errorf("Expected reason in error, got %v", res.Err)
	}
}

func TestInvoke_StartErrorIsFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	backend := &fakeBackend{startErr: cause}
	inv := NewInvoker(Available(backend), 0, testLogger())

	res := inv.Invoke(context.Background(), message("hi"))
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Expected failed, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, ErrFailed) || !errors.Is(res.Err, cause) {
		t.Errorf("Expected ErrFailed wrapping cause, got %v", res.Err)
	}
	if backend.Calls() != 1 {
		t.Errorf("Expected exactly one attempt, got %d", backend.Calls())
	}
}

func TestInvoke_MidStreamErrorIsFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		events: []*Event{{Text: "partial"}},
		err:    errors.New("stream broken"),
	}
	inv := NewInvoker(Available(backend), 0, testLogger())

	res := inv.Invoke(context.Background(), message("hi"))
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Expected failed, got %s", res.Outcome)
	}
	if res.Reply != "partial" {
		t.Errorf("Expected partial text kept for logging, got %q", res.Reply)
	}
}

func TestInvoke_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	inv := NewInvoker(Available(&fakeBackend{panicMsg: "tool exploded"}), 0, testLogger())

	res := inv.Invoke(context.Background(), message("hi"))
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Expected failed, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, ErrFailed) || !strings.Contains(res.Err.Error(), "tool exploded") {
		t.Errorf("Expected panic message in error, got %v", res.Err)
	}
}

func TestInvoke_TimeoutIsFailure(t *testing.T) {
	t.Parallel()

	inv := NewInvoker(Available(&fakeBackend{block: true}), 20*time.Millisecond, testLogger())

	res := inv.Invoke(context.Background(), message("hi"))
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Expected failed, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", res.Err)
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{events: []*Event{{Text: "We sell mugs."}}}
	inv := NewInvoker(Available(backend), 0, testLogger())

	res, input := inv.Probe(context.Background())
	if input != "User message: What products do you have?" {
		t.Errorf("Unexpected probe input: %q", input)
	}
	if res.Outcome != OutcomeReplied || res.Reply != "We sell mugs." {
		t.Errorf("Unexpected probe result: %+v", res)
	}
	if backend.lastReq.Message != input {
		t.Errorf("Expected backend to receive probe input, got %q", backend.lastReq.Message)
	}
}

func TestProbe_Unavailable(t *testing.T) {
	t.Parallel()

	inv := NewInvoker(Unavailable("down"), 0, testLogger())
	res, _ := inv.Probe(context.Background())
	if res.Outcome != OutcomeUnavailable {
		t.Errorf("Expected unavailable, got %s", res.Outcome)
	}
}

func TestAvailability(t *testing.T) {
	t.Parallel()

	if Available(nil).IsAvailable() {
		t.Error("Expected nil backend to be unavailable")
	}

	a := Available(&fakeBackend{})
	if !a.IsAvailable() || a.Describe() != "fake" || a.Reason() != "" {
		t.Errorf("Unexpected available value: %+v", a)
	}

	u := Unavailable("AGENT_ADDR not set")
	if _, ok := u.Backend(); ok {
		t.Error("Expected no backend")
	}
	if u.Kind() != "AGENT_ADDR not set" {
		t.Errorf("Unexpected kind %q", u.Kind())
	}
	if u.Describe() != "AGENT_ADDR not set" {
		t.Errorf("Unexpected description %q", u.Describe())
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	if OutcomeReplied.String() != "replied" || OutcomeFailed.String() != "failed" || OutcomeUnavailable.String() != "unavailable" {
		t.Error("Unexpected outcome names")
	}
}
