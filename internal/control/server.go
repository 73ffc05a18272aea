package control

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/parley/internal/logging"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server serves the control service on a Unix domain socket.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer listens on socketPath. A stale socket left by a crashed daemon is
// removed first; the profile lock guarantees no live daemon owns it.
func NewServer(socketPath string, svc ControlServer, logger *zap.Logger) (*Server, error) {
	logger = logging.OrNop(logger)

	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	Register(srv, svc)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// SocketPath is where the server listens.
func (s *Server) SocketPath() string { return s.socketPath }

// Start serves requests. It blocks until Stop.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop drains in-flight calls and removes the socket. Calls still running
// when ctx expires are cut off.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	_ = s.listener.Close()
	_ = os.Remove(s.socketPath)
}
