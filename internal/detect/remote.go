package detect

import (
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/wire"
)

// DefaultRemoteTimeout bounds one network round trip of the remote
// bridge. Without it a stalled server would wedge the worker loop
// forever.
const DefaultRemoteTimeout = 30 * time.Second

// Remote forwards tensors to a detection server over one wire connection
// held open for the backend's lifetime. The one-in-flight protocol rule
// is satisfied by construction: the worker loop is the only caller and it
// blocks on each round trip.
type Remote struct {
	conn    *wire.Conn
	timeout time.Duration
}

// NewRemote connects to a detection server. A connection failure here is
// a startup fault for the owning worker process.
func NewRemote(addr string, timeout time.Duration) (*Remote, error) {
	if addr == "" {
		return nil, fmt.Errorf("detect: remote backend needs an address")
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	conn, err := wire.Dial(addr)
	if err != nil {
		return nil, err
	}
	return &Remote{conn: conn, timeout: timeout}, nil
}

// DetectRaw sends the tensor and blocks for the response. Any failure,
// including the round-trip deadline, poisons the connection; the caller
// is expected to exit and let its supervisor restart it.
func (r *Remote) DetectRaw(t *tensor.Tensor) (*tensor.Tensor, error) {
	if err := r.conn.SetDeadline(time.Now().Add(r.timeout)); err != nil {
		return nil, err
	}
	if err := r.conn.Send(t); err != nil {
		return nil, err
	}
	result, err := r.conn.Recv()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the server connection.
func (r *Remote) Close() error { return r.conn.Close() }
