// Package tensor provides the numeric array type exchanged between the
// dispatch layer, worker processes, and the remote detection server, plus
// its self-describing binary encoding.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType identifies the element type of a Tensor.
type DType uint8

const (
	// Uint8 is one byte per element, used for input frame tensors.
	Uint8 DType = 1
	// Float32 is four bytes per element (little-endian), used for
	// detection result tensors.
	Float32 DType = 2
)

// ElemSize returns the size of one element in bytes.
func (d DType) ElemSize() int {
	switch d {
	case Uint8:
		return 1
	case Float32:
		return 4
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Tensor is a dense numeric array. Data holds the elements in row-major
// order; multi-byte elements are little-endian.
type Tensor struct {
	DType DType
	Shape []int
	Data  []byte
}

// New allocates a zero-filled tensor of the given type and shape.
func New(dtype DType, shape ...int) *Tensor {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return &Tensor{
		DType: dtype,
		Shape: shape,
		Data:  make([]byte, n*dtype.ElemSize()),
	}
}

// NewUint8 wraps raw bytes as a uint8 tensor. The data is not copied.
func NewUint8(data []byte, shape ...int) (*Tensor, error) {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	if len(data) != n {
		return nil, fmt.Errorf("tensor: %d bytes do not fit shape %v", len(data), shape)
	}
	return &Tensor{DType: Uint8, Shape: shape, Data: data}, nil
}

// NewFloat32 builds a float32 tensor from values in row-major order.
func NewFloat32(values []float32, shape ...int) (*Tensor, error) {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	if len(values) != n {
		return nil, fmt.Errorf("tensor: %d values do not fit shape %v", len(values), shape)
	}
	t := New(Float32, shape...)
	for i, v := range values {
		binary.LittleEndian.PutUint32(t.Data[i*4:], math.Float32bits(v))
	}
	return t, nil
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	n := 1
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// Float32s decodes the data into a freshly allocated []float32. It panics
// if the tensor is not Float32.
func (t *Tensor) Float32s() []float32 {
	if t.DType != Float32 {
		panic(fmt.Sprintf("tensor: Float32s on %s tensor", t.DType))
	}
	out := make([]float32, t.Len())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return out
}

// ShapeEquals reports whether the tensor has exactly the given shape.
func (t *Tensor) ShapeEquals(shape ...int) bool {
	if len(t.Shape) != len(shape) {
		return false
	}
	for i, dim := range shape {
		if t.Shape[i] != dim {
			return false
		}
	}
	return true
}
