package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// The agent service exposes a single server-streaming method. Requests and
// events are google.protobuf.Struct messages so no generated stubs are needed.
const (
	ServiceName = "behold.agent.v1.AgentService"
	RunMethod   = "/" + ServiceName + "/Run"
)

// RunStreamDesc describes the Run method for clients and test servers.
var RunStreamDesc = grpc.StreamDesc{
	StreamName:    "Run",
	ServerStreams: true,
}

// Event types carried in the "type" field of a streamed event.
const (
	EventTypeText  = "text"
	EventTypeDone  = "done"
	EventTypeError = "error"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errAgentEvent               = errors.New("agent returned error event")
)

// GrpcClient streams agent runs from the external agent service.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

var _ Backend = (*GrpcClient)(nil)

// NewGrpcClient connects to the agent service and waits until the
// connection is ready, so a bad endpoint is detected at startup.
func NewGrpcClient(ctx context.Context, cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to agent service", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name identifies the backend.
func (c *GrpcClient) Name() string {
	return "grpc:" + c.addr
}

// Kind reports the transport.
func (c *GrpcClient) Kind() string { return "grpc" }

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Run starts an agent run and yields its events until the server closes the stream.
func (c *GrpcClient) Run(ctx context.Context, req RunRequest) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		// Stopping early must tear the stream down.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = req.UserID
		}

		in, err := structpb.NewStruct(map[string]any{
			"user_id":     req.UserID,
			"session_id":  sessionID,
			"message_id":  req.MessageID,
			"message":     req.Message,
			"instruction": req.Instruction,
		})
		if err != nil {
			yield(nil, fmt.Errorf("encode run request: %w", err))
			return
		}

		stream, err := c.conn.NewStream(ctx, &RunStreamDesc, RunMethod)
		if err != nil {
			yield(nil, fmt.Errorf("run request failed: %w", err))
			return
		}
		if err := stream.SendMsg(in); err != nil {
			yield(nil, fmt.Errorf("send run request: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, fmt.Errorf("close run request: %w", err))
			return
		}

		for {
			out := &structpb.Struct{}
			err := stream.RecvMsg(out)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				c.logger.Debug("Agent stream ended with error", "code", status.Code(err).String(), "user_id", req.UserID)
				yield(nil, fmt.Errorf("agent stream error: %w", err))
				return
			}

			event, err := decodeEvent(out)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

func decodeEvent(s *structpb.Struct) (*Event, error) {
	fields := s.GetFields()
	str := func(key string) string {
		return fields[key].GetStringValue()
	}

	kind := str("type")
	if kind == EventTypeError {
		if msg := str("error_message"); msg != "" {
			return nil, fmt.Errorf("%w: %s", errAgentEvent, msg)
		}
		return nil, errAgentEvent
	}

	return &Event{
		Text:   str("text"),
		Author: str("author"),
		Final:  kind == EventTypeDone || fields["final"].GetBoolValue(),
	}, nil
}
