// Package transport hosts the engine's gRPC endpoint.
package transport

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Registrar adds services to the server before it starts serving.
type Registrar func(grpc.ServiceRegistrar)

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// StartServer listens on port (0 picks a free one) and registers the standard
// health service plus every service passed in.
func StartServer(port int, services ...Registrar) (*Server, error) {
	return Listen(fmt.Sprintf(":%d", port), services...)
}

func Listen(addr string, services ...Registrar) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServer(lis, services...), nil
}

// NewServer wraps an existing listener.
func NewServer(lis net.Listener, services ...Registrar) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	for _, register := range services {
		register(s.grpc)
	}
	return s
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

// SetServing flips the health status reported for service ("" is the whole
// server).
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

func (s *Server) Serve() error {
	return s.grpc.Serve(s.lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
