// Package detect defines the pluggable detection backend: the one
// capability that turns an input tensor into a fixed-shape detection
// array. The inference computation itself lives outside this module;
// engines register themselves per device kind, in the manner of
// database/sql drivers.
package detect

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
)

// Backend turns a (1,H,W,3) uint8 tensor into a (20,6) float32 detection
// tensor: rows of [class id, score, y1, x1, y2, x2].
//
// Backends must emit rows in non-increasing score order; threshold
// filtering stops at the first row below the cutoff and would otherwise
// drop valid detections.
type Backend interface {
	DetectRaw(t *tensor.Tensor) (*tensor.Tensor, error)
	Close() error
}

// Kind discriminates backend variants.
type Kind string

const (
	// KindCPU runs the model on the host CPU.
	KindCPU Kind = "cpu"
	// KindAccelerator binds a local inference accelerator.
	KindAccelerator Kind = "accelerator"
	// KindRemote forwards tensors to a detection server over the wire
	// protocol.
	KindRemote Kind = "remote"
)

// Config selects and parameterizes a backend variant.
type Config struct {
	Kind       Kind
	Device     string // Accelerator selector (KindAccelerator)
	Address    string // host:port of the detection server (KindRemote)
	ModelPath  string
	NumThreads int
}

// EngineFactory builds a local backend bound to a device. Binding or
// model-load failures are startup faults and must be returned, not
// deferred.
type EngineFactory func(Config) (Backend, error)

var (
	enginesMu sync.RWMutex
	engines   = map[Kind]EngineFactory{}
)

// Register installs an engine factory for a device kind. Inference
// engine packages call this from an init function; importing the engine
// package makes the kind available.
func Register(kind Kind, factory EngineFactory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if factory == nil {
		panic("detect: Register with nil factory")
	}
	if _, dup := engines[kind]; dup {
		panic(fmt.Sprintf("detect: Register called twice for %q", kind))
	}
	engines[kind] = factory
}

// New constructs the backend selected by cfg. For local kinds the
// registered engine factory runs; a missing engine or a factory error is
// a startup fault for the owning process.
func New(cfg Config) (Backend, error) {
	if cfg.Kind == KindRemote {
		return NewRemote(cfg.Address, DefaultRemoteTimeout)
	}
	enginesMu.RLock()
	factory, ok := engines[cfg.Kind]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("detect: no engine registered for %q (have %v)", cfg.Kind, registered())
	}
	backend, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("detect: %s engine startup: %w", cfg.Kind, err)
	}
	return backend, nil
}

func registered() []Kind {
	kinds := make([]Kind, 0, len(engines))
	for k := range engines {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Func adapts a plain function to the Backend interface. Tests and
// in-process engines use it.
type Func func(*tensor.Tensor) (*tensor.Tensor, error)

// DetectRaw calls the function.
func (f Func) DetectRaw(t *tensor.Tensor) (*tensor.Tensor, error) { return f(t) }

// Close is a no-op.
func (f Func) Close() error { return nil }
