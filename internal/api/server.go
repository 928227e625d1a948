// Package api hosts the gRPC listener of the relay. It carries the standard
// health service so orchestration tooling can probe the live channel.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
)

// Server is the gRPC server hosting the health service.
type Server struct {
	addr   string
	grpc   *grpc.Server
	health *HealthService
	log    *slog.Logger
}

// NewServer creates a Server listening on addr once ListenAndServe is called.
func NewServer(addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr:   addr,
		grpc:   grpc.NewServer(),
		health: NewHealthService(),
		log:    log,
	}
	s.health.RegisterGRPC(s.grpc)
	return s
}

// Health returns the health service so callers can report state changes.
func (s *Server) Health() *HealthService { return s.health }

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then stops gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info("grpc listening", "addr", lis.Addr().String())
	errc := make(chan error, 1)
	go func() { errc <- s.grpc.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		<-errc
		return nil
	case err := <-errc:
		return err
	}
}
