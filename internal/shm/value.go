package shm

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"
)

// Float64 is a float64 cell on mapped memory, shared across processes.
//
// Access is atomic at the word level only: the contract is single writer,
// best-effort readers. Readers may observe a slightly stale value but
// never a torn one.
type Float64 struct {
	p *uint64
}

// Float64At overlays a Float64 cell on 8 bytes of a mapped segment.
// The offset must be 8-byte aligned (mmap regions are page aligned, so
// any multiple of 8 works).
func Float64At(b []byte, off int) (*Float64, error) {
	if off%8 != 0 {
		return nil, fmt.Errorf("shm: misaligned float64 cell at offset %d", off)
	}
	if off+8 > len(b) {
		return nil, fmt.Errorf("shm: float64 cell at offset %d past end of %d-byte segment", off, len(b))
	}
	return &Float64{p: (*uint64)(unsafe.Pointer(&b[off]))}, nil
}

// Load reads the cell.
func (v *Float64) Load() float64 {
	return math.Float64frombits(atomic.LoadUint64(v.p))
}

// Store writes the cell.
func (v *Float64) Store(f float64) {
	atomic.StoreUint64(v.p, math.Float64bits(f))
}
