// Package domain holds the message types shared by the reply pipeline.
package domain

import (
	"strings"
)

// IncomingMessage is a chat message delivered by the messaging bridge.
type IncomingMessage struct {
	SenderID  string `json:"user_id"`
	Body      string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

// Validate rejects messages missing a sender or a body.
func (m IncomingMessage) Validate() error {
	var missing []string
	if m.SenderID == "" {
		missing = append(missing, "user_id")
	}
	if m.Body == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// MissingFieldsError names the required request fields that were absent.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required field(s): " + strings.Join(e.Fields, ", ")
}

// ReplySource identifies which stage of the pipeline produced a reply.
type ReplySource string

const (
	// SourceAgent is a reply aggregated from the primary agent backend.
	SourceAgent ReplySource = "agent"
	// SourceFallback is a reply from the secondary text-generation backend.
	SourceFallback ReplySource = "fallback"
	// SourceCanned is the templated last-resort reply.
	SourceCanned ReplySource = "canned"
)

// OutboundReply is the only response shape returned to the bridge.
// Source is kept out of the wire format so callers cannot tell stages apart.
type OutboundReply struct {
	Reply  string      `json:"reply"`
	Source ReplySource `json:"-"`
}
