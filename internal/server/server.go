// Package server implements the standalone detection server: it
// terminates the wire protocol and serializes concurrent requests
// against one local detection backend.
package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/detect"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/wire"
)

// logEvery is the request-count interval for progress log lines.
const logEvery = 100

// DetectionServer serves detection requests from any number of
// connections against a single backend. The backend holds heavyweight
// model state bound to one device, so detection calls are serialized
// server-wide behind a mutex regardless of connection count.
type DetectionServer struct {
	backend detect.Backend
	wire    *wire.Server
	metrics *metrics.Metrics

	mu       sync.Mutex // Serializes backend calls and the request count
	requests uint64
}

// New wraps an already-constructed backend. Backend construction errors
// are startup faults and belong to the caller, before any socket is
// bound. m may be nil.
func New(backend detect.Backend, m *metrics.Metrics) *DetectionServer {
	s := &DetectionServer{backend: backend, metrics: m}
	s.wire = wire.NewServer(s.handle)
	return s
}

// ListenAndServe binds addr and serves until Close.
func (s *DetectionServer) ListenAndServe(addr string) error {
	return s.wire.ListenAndServe(addr)
}

// Wire exposes the underlying wire server, for tests that need the bound
// address of a ":0" listener.
func (s *DetectionServer) Wire() *wire.Server { return s.wire }

func (s *DetectionServer) handle(conn *wire.Conn) error {
	if s.metrics != nil {
		s.metrics.ActiveConnections.Add(1)
		defer func() { s.metrics.ActiveConnections.Add(^uint64(0)) }()
	}
	for {
		input, err := conn.Recv()
		if err != nil {
			if s.metrics != nil && err != wire.ErrClosed {
				s.metrics.ServeErrors.Add(1)
			}
			return err
		}

		s.mu.Lock()
		s.requests++
		if s.requests%logEvery == 0 {
			logger.L().Info("requests handled", zap.Uint64("count", s.requests))
		}
		result, err := s.backend.DetectRaw(input)
		s.mu.Unlock()
		if err != nil {
			if s.metrics != nil {
				s.metrics.ServeErrors.Add(1)
			}
			return err
		}
		if s.metrics != nil {
			s.metrics.RequestsServed.Add(1)
		}

		if err := conn.Send(result); err != nil {
			return err
		}
	}
}

// Requests returns the total request count.
func (s *DetectionServer) Requests() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Close stops the listener and waits for connection handlers, then
// releases the backend.
func (s *DetectionServer) Close() error {
	err := s.wire.Close()
	if berr := s.backend.Close(); err == nil {
		err = berr
	}
	return err
}
