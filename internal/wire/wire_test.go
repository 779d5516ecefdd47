package wire

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
)

// echoHandler answers every request with the request itself.
func echoHandler(conn *Conn) error {
	for {
		t, err := conn.Recv()
		if err != nil {
			return err
		}
		if err := conn.Send(t); err != nil {
			return err
		}
	}
}

func startServer(t *testing.T, handler Handler) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(handler)
	go srv.Serve(lis)
	t.Cleanup(func() { srv.Close() })
	return lis.Addr().String()
}

func frameTensor(t *testing.T) *tensor.Tensor {
	t.Helper()
	frame := tensor.New(tensor.Uint8, 1, 32, 32, 3)
	for i := range frame.Data {
		frame.Data[i] = byte(i)
	}
	return frame
}

func TestClientServerRoundTrip(t *testing.T) {
	addr := startServer(t, echoHandler)

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	sent := frameTensor(t)
	if err := client.Send(sent); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.DType != sent.DType || !got.ShapeEquals(sent.Shape...) {
		t.Fatalf("echo came back as %s %v", got.DType, got.Shape)
	}
	for i := range got.Data {
		if got.Data[i] != sent.Data[i] {
			t.Fatalf("byte %d = %d, want %d", i, got.Data[i], sent.Data[i])
		}
	}
}

func TestRecvClosedMidHeader(t *testing.T) {
	addr := startServer(t, func(conn *Conn) error {
		// Write a partial header, then hang up.
		conn.c.Write([]byte{0x00, 0x01})
		return conn.Close()
	})

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Recv(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Recv after partial header = %v, want ErrClosed", err)
	}
}

func TestServerSurvivesBadConnection(t *testing.T) {
	addr := startServer(t, echoHandler)

	// One peer hangs up mid-header.
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	raw.Write([]byte{0x00, 0x02})
	raw.Close()

	// Another peer sends a syntactically valid frame with a garbage
	// payload; its handler fails, its connection dies, nothing else.
	bad, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	bad.Write([]byte{0x00, 0x00, 0x00, 0x02, 0xff, 0xff})
	bad.Close()

	time.Sleep(50 * time.Millisecond)

	// A well-behaved client still gets service.
	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	if err := client.Send(frameTensor(t)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := client.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
}

func TestRecvRejectsOversizedFrame(t *testing.T) {
	addr := startServer(t, func(conn *Conn) error {
		conn.c.Write([]byte{0xff, 0xff, 0xff, 0xff})
		return conn.Close()
	})

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Recv(); err == nil || errors.Is(err, ErrClosed) {
		t.Fatalf("Recv of oversized frame = %v, want a length error", err)
	}
}

func TestCloseUnblocksIdleHandlers(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(echoHandler)
	go srv.Serve(lis)

	// Idle peers: each parks a handler goroutine in Recv.
	for i := 0; i < 3; i++ {
		client, err := Dial(lis.Addr().String())
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		defer client.Close()
	}

	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return with idle connections open")
	}
}

func TestSendRecvHonorsDeadline(t *testing.T) {
	addr := startServer(t, func(conn *Conn) error {
		// Never answer; the client's deadline must fire.
		for {
			if _, err := conn.Recv(); err != nil {
				return err
			}
		}
	})

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := client.Send(frameTensor(t)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	client.SetDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := client.Recv(); err == nil {
		t.Fatal("Recv returned without the server answering")
	}
}
