package memd

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/opencode-ai/memengine/internal/busylock"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MaxTransferLength caps a single ReadMemory or WriteMemory request.
const MaxTransferLength = 1 << 20

// Server implements MemoryServiceServer on top of an engine's connection.
// Every memory request takes the engine busy lock for its duration.
type Server struct {
	engine         *engine.MemoryEngine
	logger         zerolog.Logger
	version        string
	hostname       string
	acquireTimeout time.Duration
	startedAt      time.Time

	reads  atomic.Int64
	writes atomic.Int64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVersion sets the version reported by GetStatus.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithHostname overrides the hostname reported by GetStatus.
func WithHostname(hostname string) ServerOption {
	return func(s *Server) {
		s.hostname = hostname
	}
}

// WithAcquireTimeout bounds how long a request waits for the busy lock.
func WithAcquireTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.acquireTimeout = d
	}
}

// NewServer creates a service for eng.
func NewServer(eng *engine.MemoryEngine, logger zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		engine:         eng,
		logger:         logger,
		version:        "dev",
		acquireTimeout: 5 * time.Second,
		startedAt:      time.Now(),
	}
	if host, err := os.Hostname(); err == nil {
		s.hostname = host
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping returns the server time.
func (s *Server) Ping(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error) {
	return timestamppb.Now(), nil
}

// GetStatus reports connection and transfer state.
func (s *Server) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	conn := s.engine.Connection()
	connected := conn != nil && conn.IsConnected()
	littleEndian := conn != nil && conn.LittleEndian()

	st, err := structpb.NewStruct(map[string]any{
		"version":       s.version,
		"hostname":      s.hostname,
		"connected":     connected,
		"little_endian": littleEndian,
		"busy":          s.engine.BusyLock().IsBusy(),
		"started_at":    s.startedAt.UTC().Format(time.RFC3339),
		"uptime":        time.Since(s.startedAt).Round(time.Second).String(),
		"reads":         s.reads.Load(),
		"writes":        s.writes.Load(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to build status: %v", err)
	}
	return st, nil
}

// ReadMemory reads {address, length} bytes.
func (s *Server) ReadMemory(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	addr, err := uintField(req, "address", 0xFFFFFFFF)
	if err != nil {
		return nil, err
	}
	length, err := uintField(req, "length", MaxTransferLength)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	err = s.withConnection(ctx, func(conn connection.Connection) error {
		return conn.ReadBytes(ctx, uint32(addr), buf, s.engine.ChunkSize(), nil)
	})
	if err != nil {
		s.logger.Debug().Err(err).Uint64("address", addr).Uint64("length", length).Msg("read failed")
		return nil, toStatus(err)
	}

	s.reads.Add(1)
	return wrapperspb.Bytes(buf), nil
}

// WriteMemory writes base64 {data} at {address}.
func (s *Server) WriteMemory(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	addr, err := uintField(req, "address", 0xFFFFFFFF)
	if err != nil {
		return nil, err
	}
	encoded := req.GetFields()["data"].GetStringValue()
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "data is not valid base64: %v", err)
	}
	if len(data) > MaxTransferLength {
		return nil, status.Errorf(codes.InvalidArgument, "data exceeds %d bytes", MaxTransferLength)
	}
	if len(data) == 0 {
		return &emptypb.Empty{}, nil
	}

	err = s.withConnection(ctx, func(conn connection.Connection) error {
		return conn.WriteBytes(ctx, uint32(addr), data)
	})
	if err != nil {
		s.logger.Debug().Err(err).Uint64("address", addr).Int("length", len(data)).Msg("write failed")
		return nil, toStatus(err)
	}

	s.writes.Add(1)
	return &emptypb.Empty{}, nil
}

// ModuleBase resolves a module name to its base address.
func (s *Server) ModuleBase(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.UInt32Value, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "module name is required")
	}

	var base uint32
	err := s.withConnection(ctx, func(conn connection.Connection) error {
		resolver, ok := connection.TryGetFeature[connection.ModuleResolver](conn)
		if !ok {
			return status.Error(codes.Unimplemented, "connection cannot resolve modules")
		}
		var err error
		base, err = resolver.ModuleBase(ctx, req.GetValue())
		return err
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.UInt32(base), nil
}

// SetFrozen freezes or unfreezes the device.
func (s *Server) SetFrozen(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	err := s.withConnection(ctx, func(conn connection.Connection) error {
		freezer, ok := connection.TryGetFeature[connection.Freezer](conn)
		if !ok {
			return status.Error(codes.Unimplemented, "connection cannot freeze the device")
		}
		if req.GetValue() {
			return freezer.Freeze(ctx)
		}
		return freezer.Unfreeze(ctx)
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// IsFrozen reports whether the device is frozen.
func (s *Server) IsFrozen(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	var frozen bool
	err := s.withConnection(ctx, func(conn connection.Connection) error {
		freezer, ok := connection.TryGetFeature[connection.Freezer](conn)
		if !ok {
			return status.Error(codes.Unimplemented, "connection cannot freeze the device")
		}
		var err error
		frozen, err = freezer.IsFrozen(ctx)
		return err
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(frozen), nil
}

// withConnection runs fn with the engine connection while holding the busy lock.
func (s *Server) withConnection(ctx context.Context, fn func(conn connection.Connection) error) error {
	token, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer token.Release()

	conn := s.engine.Connection()
	if conn == nil {
		return engine.ErrNoConnection
	}
	if !conn.IsConnected() {
		return connection.ErrNotConnected
	}
	return fn(conn)
}

func (s *Server) acquire(ctx context.Context) (*busylock.Token, error) {
	token, err := s.engine.BusyLock().AcquireTimeout(ctx, s.acquireTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, engine.ErrBusy
		}
		return nil, err
	}
	return token, nil
}

func uintField(req *structpb.Struct, name string, max uint64) (uint64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	n := v.GetNumberValue()
	if n < 0 || n != float64(uint64(n)) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a non-negative integer", name)
	}
	if uint64(n) > max {
		return 0, status.Errorf(codes.InvalidArgument, "%s exceeds %d", name, max)
	}
	return uint64(n), nil
}

// toStatus maps engine and connection errors to gRPC codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, engine.ErrNoConnection), errors.Is(err, connection.ErrNotConnected),
		errors.Is(err, connection.ErrConnectionClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, engine.ErrBusy):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, connection.ErrOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
