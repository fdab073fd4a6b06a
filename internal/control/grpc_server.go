// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package control provides the gRPC control plane used by orchestrators to
// probe process health.
package control

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer serves the standard gRPC health service for one component.
type GRPCServer struct {
	component  string
	health     *health.Server
	mu         sync.Mutex
	listener   net.Listener
	grpcServer *grpc.Server
}

// NewGRPCServer creates a control server for component (e.g. "parlor").
// Both the overall status and the component service start as NOT_SERVING.
func NewGRPCServer(component string) (*GRPCServer, error) {
	if component == "" {
		return nil, oops.Errorf("component name cannot be empty")
	}
	s := &GRPCServer{
		component: component,
		health:    health.NewServer(),
	}
	s.SetServing(false)
	return s, nil
}

// Start listens on addr. The returned channel receives the server's exit
// error (nil on graceful stop) exactly once.
func (s *GRPCServer) Start(addr string) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil, oops.Errorf("control server is already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.With("addr", addr).Wrap(err)
	}
	s.listener = listener
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	srv := s.grpcServer
	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if err != nil {
			slog.Error("control gRPC server error",
				"component", s.component,
				"error", err,
			)
		}
		errCh <- err
	}()

	slog.Info("control gRPC server started", "component", s.component, "addr", listener.Addr().String())
	return errCh, nil
}

// SetServing updates the health status reported for the server and the
// component service.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.component, status)
}

// Addr returns the listen address, or "" if not started.
func (s *GRPCServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop marks every service NOT_SERVING and stops the server, forcing the
// stop if ctx expires before in-flight RPCs finish.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.health.Shutdown()

	s.mu.Lock()
	srv := s.grpcServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		<-done
	}
	return nil
}
