package wire

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/logger"
)

// Handler serves one connection until it returns. Returning ErrClosed
// (or an error wrapping it) is the normal way a connection ends.
type Handler func(*Conn) error

// Server accepts stream connections and runs a Handler per connection.
// Failures are isolated to their connection: a handler error tears its
// connection down and is logged, nothing more.
type Server struct {
	handler Handler

	mu     sync.Mutex
	lis    net.Listener
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server that will run handler on every accepted
// connection.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler, conns: map[*Conn]struct{}{}}
}

// ListenAndServe binds addr (all interfaces for ":port") and serves until
// Close. It returns the bind error, or nil once the listener is shut
// down.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wire: listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve accepts connections from an existing listener. Tests use this
// with a ":0" listener.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	for {
		c, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("wire: accept: %w", err)
		}
		conn := NewConn(c)
		s.mu.Lock()
		if s.closed {
			// Accepted in the window before the listener shut down.
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn *Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	peer := conn.RemoteAddr().String()
	logger.L().Info("connection accepted", zap.String("peer", peer))

	err := s.handler(conn)
	switch {
	case err == nil, errors.Is(err, ErrClosed):
		logger.L().Info("connection closed", zap.String("peer", peer))
	default:
		logger.L().Warn("connection handler failed",
			zap.String("peer", peer), zap.Error(err))
	}
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Close stops accepting, closes every open connection so blocked
// handlers unblock, then waits for the handlers to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	lis := s.lis
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	if lis == nil {
		return nil
	}
	err := lis.Close()
	s.wg.Wait()
	return err
}
