package memd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opencode-ai/memengine/internal/connection"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ErrShortRead is returned when the daemon returns fewer bytes than asked.
var ErrShortRead = errors.New("daemon returned a short read")

// RemoteConnection is a connection backed by a memd daemon.
type RemoteConnection struct {
	cc        *grpc.ClientConn
	timeout   time.Duration
	chunkSize int

	littleEndian bool
	connected    atomic.Bool
	closed       atomic.Bool
}

// ClientOption configures Dial.
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout     time.Duration
	chunkSize   int
	dialOptions []grpc.DialOption
}

// WithCallTimeout bounds every remote call.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithChunkSize caps the bytes moved per remote call.
func WithChunkSize(n int) ClientOption {
	return func(o *clientOptions) {
		o.chunkSize = n
	}
}

// WithDialOptions appends raw gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(o *clientOptions) {
		o.dialOptions = append(o.dialOptions, opts...)
	}
}

// Dial connects to the daemon at target and learns the device byte order.
func Dial(ctx context.Context, target string, opts ...ClientOption) (*RemoteConnection, error) {
	o := clientOptions{
		timeout:   5 * time.Second,
		chunkSize: connection.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.chunkSize <= 0 || o.chunkSize > MaxTransferLength {
		o.chunkSize = MaxTransferLength
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, o.dialOptions...)
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}

	r := &RemoteConnection{
		cc:        cc,
		timeout:   o.timeout,
		chunkSize: o.chunkSize,
	}
	st, err := r.Status(ctx)
	if err != nil {
		_ = cc.Close()
		return nil, fmt.Errorf("failed to reach memd at %s: %w", target, err)
	}
	r.littleEndian = st.GetFields()["little_endian"].GetBoolValue()
	r.connected.Store(st.GetFields()["connected"].GetBoolValue())
	return r, nil
}

// Status returns the daemon status document.
func (r *RemoteConnection) Status(ctx context.Context) (*structpb.Struct, error) {
	out := &structpb.Struct{}
	if err := r.invoke(ctx, MethodGetStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping returns the daemon clock.
func (r *RemoteConnection) Ping(ctx context.Context) (time.Time, error) {
	out := &timestamppb.Timestamp{}
	if err := r.invoke(ctx, MethodPing, &emptypb.Empty{}, out); err != nil {
		return time.Time{}, err
	}
	return out.AsTime(), nil
}

// ReadBytes implements connection.Connection.
func (r *RemoteConnection) ReadBytes(ctx context.Context, address uint32, buf []byte, chunkSize int, progress connection.Progress) error {
	return connection.ReadChunked(ctx, r, address, buf, r.clampChunk(chunkSize), progress)
}

// WriteBytes implements connection.Connection.
func (r *RemoteConnection) WriteBytes(ctx context.Context, address uint32, buf []byte) error {
	return connection.WriteChunked(ctx, r, address, buf, r.chunkSize, nil)
}

// ReadChunk implements connection.Transport.
func (r *RemoteConnection) ReadChunk(ctx context.Context, address uint32, buf []byte) error {
	req, err := structpb.NewStruct(map[string]any{
		"address": float64(address),
		"length":  float64(len(buf)),
	})
	if err != nil {
		return err
	}
	out := &wrapperspb.BytesValue{}
	if err := r.invoke(ctx, MethodReadMemory, req, out); err != nil {
		return err
	}
	if len(out.GetValue()) != len(buf) {
		return fmt.Errorf("%w: got %d of %d bytes at %08X", ErrShortRead, len(out.GetValue()), len(buf), address)
	}
	copy(buf, out.GetValue())
	return nil
}

// WriteChunk implements connection.Transport.
func (r *RemoteConnection) WriteChunk(ctx context.Context, address uint32, buf []byte) error {
	req, err := structpb.NewStruct(map[string]any{
		"address": float64(address),
		"data":    base64.StdEncoding.EncodeToString(buf),
	})
	if err != nil {
		return err
	}
	return r.invoke(ctx, MethodWrite, req, &emptypb.Empty{})
}

// ModuleBase implements connection.ModuleResolver.
func (r *RemoteConnection) ModuleBase(ctx context.Context, name string) (uint32, error) {
	out := &wrapperspb.UInt32Value{}
	if err := r.invoke(ctx, MethodModuleBase, wrapperspb.String(name), out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Freeze implements connection.Freezer.
func (r *RemoteConnection) Freeze(ctx context.Context) error {
	return r.invoke(ctx, MethodSetFrozen, wrapperspb.Bool(true), &emptypb.Empty{})
}

// Unfreeze implements connection.Freezer.
func (r *RemoteConnection) Unfreeze(ctx context.Context) error {
	return r.invoke(ctx, MethodSetFrozen, wrapperspb.Bool(false), &emptypb.Empty{})
}

// IsFrozen implements connection.Freezer.
func (r *RemoteConnection) IsFrozen(ctx context.Context) (bool, error) {
	out := &wrapperspb.BoolValue{}
	if err := r.invoke(ctx, MethodIsFrozen, &emptypb.Empty{}, out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// IsConnected reports the last known device state.
func (r *RemoteConnection) IsConnected() bool {
	return !r.closed.Load() && r.connected.Load()
}

// IsClosed implements connection.Connection.
func (r *RemoteConnection) IsClosed() bool { return r.closed.Load() }

// LittleEndian implements connection.Connection.
func (r *RemoteConnection) LittleEndian() bool { return r.littleEndian }

// Close closes the client connection.
func (r *RemoteConnection) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.cc.Close()
}

func (r *RemoteConnection) clampChunk(n int) int {
	if n <= 0 || n > r.chunkSize {
		return r.chunkSize
	}
	return n
}

func (r *RemoteConnection) invoke(ctx context.Context, method string, in, out proto.Message) error {
	if r.closed.Load() {
		return connection.ErrConnectionClosed
	}
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	err := r.cc.Invoke(callCtx, method, in, out)
	if err == nil {
		r.connected.Store(true)
		return nil
	}
	return r.fromStatus(ctx, err)
}

// fromStatus maps daemon status codes back to connection errors. Canceled and
// DeadlineExceeded are only reported as context errors when the caller's ctx
// ended; otherwise the link or the per-call timeout failed.
func (r *RemoteConnection) fromStatus(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		r.connected.Store(false)
		return fmt.Errorf("%w: %s", connection.ErrNotConnected, st.Message())
	case codes.OutOfRange:
		return fmt.Errorf("%w: %s", connection.ErrOutOfRange, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: call canceled: %s", connection.ErrNotConnected, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: call timed out after %s: %s", connection.ErrNotConnected, r.timeout, st.Message())
	default:
		return err
	}
}

var (
	_ connection.Connection     = (*RemoteConnection)(nil)
	_ connection.Transport      = (*RemoteConnection)(nil)
	_ connection.ModuleResolver = (*RemoteConnection)(nil)
	_ connection.Freezer        = (*RemoteConnection)(nil)
)

func init() {
	connection.MustRegister("remote", func(opts connection.Options) (connection.Connection, error) {
		if opts.Target == "" {
			return nil, errors.New("remote connection requires a target")
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return Dial(ctx, opts.Target, WithCallTimeout(timeout))
	})
}
