package server

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps a gRPC server and listener.
type GRPCServer struct {
	Server   *grpc.Server
	Listener net.Listener
}

func NewGRPCServer(addr string, logger logrus.FieldLogger) (*GRPCServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newGRPCServer(ln, logger), nil
}

func newGRPCServer(ln net.Listener, logger logrus.FieldLogger) *GRPCServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	reflection.Register(s)
	return &GRPCServer{Server: s, Listener: ln}
}

func (s *GRPCServer) Serve() error {
	return s.Server.Serve(s.Listener)
}

// Shutdown drains in-flight calls until ctx ends, then stops hard.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.Server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Server.Stop()
		<-done
	}
}

func loggingInterceptor(logger logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		entry := logger.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(started).String(),
		})
		if err != nil {
			entry.WithError(err).Warn("grpc call failed")
		} else {
			entry.Debug("grpc call")
		}
		return resp, err
	}
}
