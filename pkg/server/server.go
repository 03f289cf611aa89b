// Package server exposes the validator and certificate programs over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"accredit/pkg/auth"
	"accredit/pkg/certificate"
	"accredit/pkg/events"
	"accredit/pkg/protocol"
	"accredit/pkg/registry"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// EventLister reads back published events
type EventLister interface {
	List(ctx context.Context, f events.Filter) ([]events.Event, error)
}

// Server serves the Accredit gRPC service
type Server struct {
	protocol.UnimplementedAccreditServer

	validator *registry.Validator
	ledger    *certificate.Ledger
	events    EventLister

	address    string
	authConfig auth.Config
	now        func() time.Time
	logger     *zap.Logger

	server *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
}

type Option func(*Server)

func WithAddress(addr string) Option {
	return func(s *Server) { s.address = addr }
}

func WithAuthConfig(cfg auth.Config) Option {
	return func(s *Server) { s.authConfig = cfg }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithEventLister(lister EventLister) Option {
	return func(s *Server) { s.events = lister }
}

// WithTimeSource sets the clock request timestamps are checked against
func WithTimeSource(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds the gRPC server. It does not start listening.
func New(validator *registry.Validator, ledger *certificate.Ledger, opts ...Option) (*Server, error) {
	s := &Server{
		validator:  validator,
		ledger:     ledger,
		address:    ":7400",
		authConfig: auth.DefaultConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if err := s.authConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	interceptor := auth.NewInterceptor(s.logger,
		auth.WithPublicMethods(protocol.ReadOnlyMethods...),
		auth.WithPublicMethods(healthpb.Health_Check_FullMethodName),
		auth.WithMaxClockSkew(s.authConfig.MaxClockSkew),
		auth.WithTimeSource(s.now))

	serverOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(s.logRequests, interceptor.UnaryServerInterceptor()),
	}

	tlsBuilder, err := auth.NewTLSConfigBuilder(s.authConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	tlsConfig, err := tlsBuilder.BuildServerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build server TLS config: %w", err)
	}
	if tlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
		s.logger.Info("TLS enabled", zap.String("address", s.address))
	}

	s.server = grpc.NewServer(serverOpts...)
	s.health = health.NewServer()
	protocol.RegisterAccreditServer(s.server, s)
	healthpb.RegisterHealthServer(s.server, s.health)
	return s, nil
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	go func() {
		if err := s.Serve(listener); err != nil {
			s.logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.health.SetServingStatus(protocol.ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("Server starting",
		zap.String("address", lis.Addr().String()),
		zap.String("validator_program", s.validator.ProgramID().String()),
		zap.String("certificate_program", s.ledger.ProgramID().String()))

	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Addr returns the address being served, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
	s.logger.Info("Server stopped")
}

// Ready reports whether the server is accepting requests
func (s *Server) Ready() error {
	if s.Addr() == nil {
		return errors.New("server is not listening")
	}
	return nil
}

func (s *Server) logRequests(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("Handled request",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)))
	return resp, err
}
