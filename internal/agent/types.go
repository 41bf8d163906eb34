// Package agent invokes the primary reasoning backend: an external agent
// service that streams reply fragments for a single user message.
package agent

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrUnavailable marks a message that was never sent to the agent because
	// no backend was resolved at startup.
	ErrUnavailable = errors.New("agent unavailable")
	// ErrFailed marks an agent invocation that started but did not complete.
	ErrFailed = errors.New("agent invocation failed")
)

// Backend is a resolved primary reasoning backend.
type Backend interface {
	// Name identifies the backend in logs. It may include the address.
	Name() string

	// Kind is the transport family, safe to expose on debug routes.
	Kind() string

	// Run sends one request and returns the backend's event stream.
	// The sequence is finite and can only be ranged over once.
	Run(ctx context.Context, req RunRequest) iter.Seq2[*Event, error]

	// Close releases resources.
	Close()
}

// RunRequest is a single agent invocation.
type RunRequest struct {
	UserID      string
	SessionID   string
	MessageID   string
	Message     string
	Instruction string
}

// Event is one item of an agent's response stream.
type Event struct {
	// Text is an optional reply fragment.
	Text string
	// Author names the agent (or sub-agent) that produced the event.
	Author string
	// Final is set on the event that closes the turn.
	Final bool
}

// Instruction is the role framing sent with every run request.
const Instruction = "You are an intelligent Shopify sales assistant answering customers on WhatsApp. " +
	"You have direct access to store data through your tools; never ask the customer for shop names, API keys or credentials. " +
	"When customers ask about products, fetch them immediately and recommend items that fit their needs, " +
	"including price, variants and key features. Help with cart and checkout questions and with shipping fees. " +
	"Keep replies confident, concise and ready to help with the next purchasing decision."
