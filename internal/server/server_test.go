package server

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/detect"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/pkg/types"
)

func emptyResult() *tensor.Tensor {
	t, _ := tensor.NewFloat32(
		make([]float32, types.MaxDetections*types.DetectionFields),
		types.MaxDetections, types.DetectionFields)
	return t
}

func startDetectionServer(t *testing.T, backend detect.Backend) (*DetectionServer, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(backend, nil)
	go srv.Wire().Serve(lis)
	t.Cleanup(func() { srv.Close() })
	return srv, lis.Addr().String()
}

func TestServerSerializesBackendCalls(t *testing.T) {
	var inFlight atomic.Int32
	var overlapped atomic.Bool
	backend := detect.Func(func(in *tensor.Tensor) (*tensor.Tensor, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return emptyResult(), nil
	})

	srv, addr := startDetectionServer(t, backend)

	const clients = 4
	const perClient = 25

	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remote, err := detect.NewRemote(addr, 10*time.Second)
			if err != nil {
				t.Errorf("NewRemote: %v", err)
				return
			}
			defer remote.Close()
			frame := tensor.New(tensor.Uint8, 1, 16, 16, 3)
			for i := 0; i < perClient; i++ {
				result, err := remote.DetectRaw(frame)
				if err != nil {
					t.Errorf("DetectRaw: %v", err)
					return
				}
				if !result.ShapeEquals(types.MaxDetections, types.DetectionFields) {
					t.Errorf("result shape %v", result.Shape)
					return
				}
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() {
		t.Fatal("backend calls overlapped; server must serialize them")
	}
	if got := srv.Requests(); got != clients*perClient {
		t.Fatalf("request count = %d, want %d", got, clients*perClient)
	}
}

func TestServerSurvivesClientHangup(t *testing.T) {
	backend := detect.Func(func(in *tensor.Tensor) (*tensor.Tensor, error) {
		return emptyResult(), nil
	})
	_, addr := startDetectionServer(t, backend)

	// Peer vanishes mid-header.
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	raw.Write([]byte{0x00})
	raw.Close()
	time.Sleep(20 * time.Millisecond)

	remote, err := detect.NewRemote(addr, 5*time.Second)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	defer remote.Close()
	if _, err := remote.DetectRaw(tensor.New(tensor.Uint8, 1, 16, 16, 3)); err != nil {
		t.Fatalf("DetectRaw after another peer's hangup: %v", err)
	}
}
