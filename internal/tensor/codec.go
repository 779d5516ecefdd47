package tensor

import (
	"encoding/binary"
	"fmt"
)

// Binary payload layout, independent of any wire framing:
//
//	dtype  u8
//	ndim   u8
//	dims   ndim x u32 big-endian
//	data   raw element bytes (little-endian for multi-byte types)
//
// The header is enough to reconstruct the tensor on the receiving side
// without out-of-band shape agreement.

const maxDims = 8

// maxElements caps decoded allocations; the largest legitimate payload is
// a full-resolution input frame.
const maxElements = 64 << 20

// Encode serializes a tensor into the self-describing payload format.
func Encode(t *Tensor) ([]byte, error) {
	if t.DType.ElemSize() == 0 {
		return nil, fmt.Errorf("tensor: cannot encode %s", t.DType)
	}
	if len(t.Shape) > maxDims {
		return nil, fmt.Errorf("tensor: %d dimensions exceeds limit of %d", len(t.Shape), maxDims)
	}
	buf := make([]byte, 2+4*len(t.Shape)+len(t.Data))
	buf[0] = byte(t.DType)
	buf[1] = byte(len(t.Shape))
	for i, dim := range t.Shape {
		binary.BigEndian.PutUint32(buf[2+4*i:], uint32(dim))
	}
	copy(buf[2+4*len(t.Shape):], t.Data)
	return buf, nil
}

// Decode reconstructs a tensor from an encoded payload. The element data
// is copied out of the input buffer.
func Decode(buf []byte) (*Tensor, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("tensor: payload too short (%d bytes)", len(buf))
	}
	dtype := DType(buf[0])
	if dtype.ElemSize() == 0 {
		return nil, fmt.Errorf("tensor: unknown dtype tag %d", buf[0])
	}
	ndim := int(buf[1])
	if ndim > maxDims {
		return nil, fmt.Errorf("tensor: %d dimensions exceeds limit of %d", ndim, maxDims)
	}
	if len(buf) < 2+4*ndim {
		return nil, fmt.Errorf("tensor: truncated shape header")
	}
	shape := make([]int, ndim)
	n := 1
	for i := range shape {
		dim := int(binary.BigEndian.Uint32(buf[2+4*i:]))
		shape[i] = dim
		n *= dim
		if n > maxElements {
			return nil, fmt.Errorf("tensor: shape %v exceeds element limit", shape[:i+1])
		}
	}
	data := buf[2+4*ndim:]
	if len(data) != n*dtype.ElemSize() {
		return nil, fmt.Errorf("tensor: %d data bytes for %s shape %v (want %d)",
			len(data), dtype, shape, n*dtype.ElemSize())
	}
	t := &Tensor{DType: dtype, Shape: shape, Data: make([]byte, len(data))}
	copy(t.Data, data)
	return t, nil
}
