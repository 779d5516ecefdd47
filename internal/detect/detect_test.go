package detect

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/wire"
)

func TestNewWithoutEngine(t *testing.T) {
	_, err := New(Config{Kind: Kind("never-registered")})
	if err == nil {
		t.Fatal("New built a backend with no registered engine")
	}
	if !strings.Contains(err.Error(), "no engine registered") {
		t.Fatalf("error = %v", err)
	}
}

func TestRegisterAndNew(t *testing.T) {
	kind := Kind("unit-test-engine")
	Register(kind, func(cfg Config) (Backend, error) {
		if cfg.ModelPath != "model.bin" {
			t.Errorf("factory got model path %q", cfg.ModelPath)
		}
		return Func(func(in *tensor.Tensor) (*tensor.Tensor, error) {
			return in, nil
		}), nil
	})

	backend, err := New(Config{Kind: kind, ModelPath: "model.bin"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer backend.Close()

	in := tensor.New(tensor.Uint8, 1, 8, 8, 3)
	out, err := backend.DetectRaw(in)
	if err != nil {
		t.Fatalf("DetectRaw: %v", err)
	}
	if out != in {
		t.Fatal("identity engine did not pass the tensor through")
	}
}

func TestEngineStartupFault(t *testing.T) {
	kind := Kind("unit-test-broken-engine")
	Register(kind, func(Config) (Backend, error) {
		return nil, errors.New("device not found")
	})
	if _, err := New(Config{Kind: kind}); err == nil || !strings.Contains(err.Error(), "device not found") {
		t.Fatalf("startup fault = %v", err)
	}
}

func TestRemoteNeedsAddress(t *testing.T) {
	if _, err := New(Config{Kind: KindRemote}); err == nil {
		t.Fatal("remote backend built without an address")
	}
}

func TestRemoteRoundTrip(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := wire.NewServer(func(conn *wire.Conn) error {
		for {
			in, err := conn.Recv()
			if err != nil {
				return err
			}
			if err := conn.Send(in); err != nil {
				return err
			}
		}
	})
	go srv.Serve(lis)
	defer srv.Close()

	remote, err := NewRemote(lis.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	defer remote.Close()

	frame := tensor.New(tensor.Uint8, 1, 16, 16, 3)
	for i := range frame.Data {
		frame.Data[i] = byte(i)
	}
	got, err := remote.DetectRaw(frame)
	if err != nil {
		t.Fatalf("DetectRaw: %v", err)
	}
	if !got.ShapeEquals(1, 16, 16, 3) {
		t.Fatalf("shape = %v", got.Shape)
	}
}

func TestRemoteFailsWhenServerGone(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := wire.NewServer(func(conn *wire.Conn) error {
		_, err := conn.Recv()
		return err
	})
	go srv.Serve(lis)

	remote, err := NewRemote(lis.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	defer remote.Close()

	srv.Close()

	if _, err := remote.DetectRaw(tensor.New(tensor.Uint8, 1, 8, 8, 3)); err == nil {
		t.Fatal("DetectRaw succeeded against a closed server")
	}
}
