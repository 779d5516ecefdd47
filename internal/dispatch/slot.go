// Package dispatch coordinates detection requests between pipeline
// clients and inference worker processes: shared-memory slots, the
// caller-side detector handle, the worker run loop, and the worker
// process supervisor.
package dispatch

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/pkg/types"
)

const (
	// Output segment layout: a 4-byte completion word, 4 reserved
	// bytes, then the 20x6 float32 result rows.
	outHeaderSize = 8
	resultBytes   = types.MaxDetections * types.DetectionFields * 4
	outSize       = outHeaderSize + resultBytes

	// completionPoll is how often a waiting client re-checks the
	// completion word.
	completionPoll = 500 * time.Microsecond
)

// OutputName returns the shared segment name holding a slot's output
// buffer.
func OutputName(slot string) string { return "out-" + slot }

// Slot is one logical requester: an input frame buffer named by the slot,
// an output buffer named out-<slot>, and an edge-triggered completion
// word at the head of the output buffer.
//
// The caller that creates a slot owns both segments and must Unlink them
// on teardown. Workers open existing slots and only ever write the output
// buffer and the completion word.
type Slot struct {
	name   string
	in     *shm.Segment
	out    *shm.Segment
	signal *uint32
	height int
	width  int
}

// CreateSlot creates the shared segments for a requester. Called by the
// pipeline client before any worker handles the slot.
func CreateSlot(name string, height, width int) (*Slot, error) {
	in, err := shm.Create(name, height*width*3)
	if err != nil {
		return nil, err
	}
	out, err := shm.Create(OutputName(name), outSize)
	if err != nil {
		in.Close()
		in.Unlink()
		return nil, err
	}
	return overlaySlot(name, in, out, height, width), nil
}

// OpenSlot maps the segments of an existing slot. Called by workers.
func OpenSlot(name string, height, width int) (*Slot, error) {
	in, err := shm.Open(name, height*width*3)
	if err != nil {
		return nil, err
	}
	out, err := shm.Open(OutputName(name), outSize)
	if err != nil {
		in.Close()
		return nil, err
	}
	return overlaySlot(name, in, out, height, width), nil
}

func overlaySlot(name string, in, out *shm.Segment, height, width int) *Slot {
	return &Slot{
		name:   name,
		in:     in,
		out:    out,
		signal: (*uint32)(unsafe.Pointer(&out.Bytes()[0])),
		height: height,
		width:  width,
	}
}

// Name returns the slot name.
func (s *Slot) Name() string { return s.name }

// WriteInput copies a (1,H,W,3) uint8 tensor into the input buffer.
func (s *Slot) WriteInput(t *tensor.Tensor) error {
	if t.DType != tensor.Uint8 || !t.ShapeEquals(1, s.height, s.width, 3) {
		return fmt.Errorf("dispatch: slot %s wants (1,%d,%d,3) uint8, got %s %v",
			s.name, s.height, s.width, t.DType, t.Shape)
	}
	copy(s.in.Bytes(), t.Data)
	return nil
}

// InputTensor wraps the input buffer as a tensor without copying. The
// worker-side backend reads it in place.
func (s *Slot) InputTensor() *tensor.Tensor {
	return &tensor.Tensor{
		DType: tensor.Uint8,
		Shape: []int{1, s.height, s.width, 3},
		Data:  s.in.Bytes(),
	}
}

// ClearSignal resets the completion word. Callers must clear before each
// submission so a stale completion from an earlier timed-out request is
// not read as this request's result.
func (s *Slot) ClearSignal() {
	atomic.StoreUint32(s.signal, 0)
}

// Complete marks the result rows valid. Worker side, after WriteResult.
func (s *Slot) Complete() {
	atomic.StoreUint32(s.signal, 1)
}

// WaitComplete polls the completion word for up to timeout and reports
// whether it fired.
func (s *Slot) WaitComplete(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if atomic.LoadUint32(s.signal) != 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(completionPoll)
	}
}

// WriteResult copies a (20,6) float32 result tensor into the output
// buffer. It does not signal completion; call Complete after.
func (s *Slot) WriteResult(t *tensor.Tensor) error {
	if t.DType != tensor.Float32 || !t.ShapeEquals(types.MaxDetections, types.DetectionFields) {
		return fmt.Errorf("dispatch: slot %s wants (%d,%d) float32 result, got %s %v",
			s.name, types.MaxDetections, types.DetectionFields, t.DType, t.Shape)
	}
	copy(s.out.Bytes()[outHeaderSize:], t.Data)
	return nil
}

// ReadResult decodes the output buffer into row-major float32 values.
func (s *Slot) ReadResult() []float32 {
	raw := s.out.Bytes()[outHeaderSize:]
	rows := make([]float32, types.MaxDetections*types.DetectionFields)
	for i := range rows {
		rows[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return rows
}

// Close unmaps both segments.
func (s *Slot) Close() error {
	err := s.in.Close()
	if err2 := s.out.Close(); err == nil {
		err = err2
	}
	return err
}

// Unlink releases both segment names. Only the creating caller should
// unlink; there is no reference counting.
func (s *Slot) Unlink() error {
	err := s.in.Unlink()
	if err2 := s.out.Unlink(); err == nil {
		err = err2
	}
	return err
}
