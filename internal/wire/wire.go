// Package wire implements the length-prefixed binary protocol used to
// move tensors between a detection worker and a remote detection server.
//
// Every message on a connection is a 4-byte big-endian length followed by
// a tensor payload (see internal/tensor for the payload format). The
// protocol carries no request ids: exactly one request may be in flight
// per connection, and the caller must read each response before sending
// the next request.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
)

// ErrClosed reports that the peer closed the connection, including a
// close mid-header. It is an expected way for a connection to end; the
// server treats it as a quiet teardown.
var ErrClosed = errors.New("wire: connection closed by peer")

// maxPayload rejects frames whose declared length cannot be a legitimate
// tensor before allocating for them.
const maxPayload = 256 << 20

// recvChunk bounds how much of the payload a single read may return;
// receipt tolerates arbitrarily fragmented TCP delivery.
const recvChunk = 1024

// Conn frames tensors over a stream connection. Safe for one concurrent
// sender and one concurrent receiver, which is all the one-in-flight
// protocol allows anyway.
type Conn struct {
	c net.Conn
}

// NewConn wraps an accepted or dialed stream connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{c: c}
}

// Dial connects to a detection server at a host:port address.
func Dial(addr string) (*Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", addr, err)
	}
	return NewConn(c), nil
}

// Send frames and writes one tensor.
func (c *Conn) Send(t *tensor.Tensor) error {
	payload, err := tensor.Encode(t)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := c.c.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: send header: %w", err)
	}
	if _, err := c.c.Write(payload); err != nil {
		return fmt.Errorf("wire: send payload: %w", err)
	}
	return nil
}

// Recv reads one framed tensor. A peer that disappears mid-header yields
// ErrClosed and the connection is closed.
func (c *Conn) Recv() (*tensor.Tensor, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.c, hdr[:]); err != nil {
		c.c.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("wire: recv header: %w", err)
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > maxPayload {
		c.c.Close()
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds limit", length)
	}

	payload := make([]byte, length)
	for off := 0; off < int(length); {
		chunk := int(length) - off
		if chunk > recvChunk {
			chunk = recvChunk
		}
		n, err := c.c.Read(payload[off : off+chunk])
		off += n
		if err != nil {
			c.c.Close()
			if errors.Is(err, io.EOF) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("wire: recv payload: %w", err)
		}
	}
	return tensor.Decode(payload)
}

// SetDeadline bounds both the next Send and the next Recv. A zero time
// clears the deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.c.SetDeadline(t)
}

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.c.Close() }
