// Package admin runs the local gRPC admin endpoint: the standard health
// service plus reflection, so grpcurl and `palaver ps` can probe the bot.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the bot itself.
const ServiceName = "palaver.Bot"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

func NewServer() *Server {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()

	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	s := &Server{grpc: grpcServer, health: healthServer}
	s.SetServing(false)
	return s
}

// SetServing flips both the overall and the bot health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) ListenAndServe(ctx context.Context, bind string) error {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", bind, err)
	}

	return s.Serve(ctx, listener)
}

// Serve blocks until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(listener)
	}()

	slog.Info("admin listening", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin: serve: %w", err)
		}
		return nil
	}
}

// Check asks the admin endpoint at addr for the bot's health status.
func Check(ctx context.Context, addr string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("admin: dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return "", fmt.Errorf("admin: health check: %w", err)
	}

	return resp.GetStatus().String(), nil
}
