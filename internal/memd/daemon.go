package memd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/opencode-ai/memengine/internal/config"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// DefaultPort is the memd listen port.
const DefaultPort = 7420

// Options configure the daemon runtime.
type Options struct {
	Hostname string
	Port     int
	Version  string
}

// Daemon exposes an engine's connection over gRPC.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger
	opts   Options

	server     *Server
	limiter    *RateLimiter
	grpcServer *grpc.Server
}

// New constructs a daemon serving eng.
func New(cfg *config.Config, eng *engine.MemoryEngine, logger zerolog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Hostname == "" {
		opts.Hostname = cfg.Daemon.Hostname
	}
	if opts.Hostname == "" {
		opts.Hostname = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = cfg.Daemon.Port
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}

	server := NewServer(eng, logger,
		WithVersion(opts.Version),
		WithAcquireTimeout(cfg.Engine.AcquireTimeout),
	)

	limiterOpts := []RateLimiterOption{WithEnabled(cfg.Daemon.RateLimitEnabled)}
	if cfg.Daemon.RequestsPerSecond > 0 && cfg.Daemon.BurstSize > 0 {
		limiterOpts = append(limiterOpts, WithGlobalLimit(RateLimit{
			RequestsPerSecond: cfg.Daemon.RequestsPerSecond,
			BurstSize:         cfg.Daemon.BurstSize,
		}))
	}
	limiter := NewRateLimiter(limiterOpts...)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(limiter.UnaryServerInterceptor()))
	RegisterMemoryServiceServer(grpcServer, server)

	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		opts:       opts,
		server:     server,
		limiter:    limiter,
		grpcServer: grpcServer,
	}, nil
}

// Run listens on the configured address and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	bindAddr := d.bindAddr()
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", bindAddr, err)
	}
	return d.Serve(ctx, listener)
}

// Serve serves on lis until ctx is canceled.
func (d *Daemon) Serve(ctx context.Context, lis net.Listener) error {
	d.logger.Info().
		Str("bind", lis.Addr().String()).
		Str("version", d.opts.Version).
		Bool("rate_limit", d.limiter.IsEnabled()).
		Msg("memd gRPC server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := d.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		d.logger.Info().Msg("memd shutting down...")
		d.grpcServer.GracefulStop()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
	}

	d.logger.Info().Msg("memd shutdown complete")
	return nil
}

func (d *Daemon) bindAddr() string {
	return net.JoinHostPort(d.opts.Hostname, strconv.Itoa(d.opts.Port))
}

// Server returns the service implementation.
func (d *Daemon) Server() *Server {
	return d.server
}

// RateLimiter returns the limiter installed on the server.
func (d *Daemon) RateLimiter() *RateLimiter {
	return d.limiter
}
