package tensor

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestEncodeDecodeUint8Frame(t *testing.T) {
	frame := New(Uint8, 1, 300, 300, 3)
	for i := range frame.Data {
		frame.Data[i] = byte(i * 31)
	}

	payload, err := Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.DType != Uint8 {
		t.Fatalf("dtype = %s, want uint8", got.DType)
	}
	if !got.ShapeEquals(1, 300, 300, 3) {
		t.Fatalf("shape = %v", got.Shape)
	}
	if !bytes.Equal(got.Data, frame.Data) {
		t.Fatalf("data does not round-trip")
	}
}

func TestEncodeDecodeFloat32Detections(t *testing.T) {
	values := make([]float32, 20*6)
	for i := range values {
		values[i] = float32(i) * 0.017
	}
	detections, err := NewFloat32(values, 20, 6)
	if err != nil {
		t.Fatalf("NewFloat32: %v", err)
	}

	payload, err := Encode(detections)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.DType != Float32 || !got.ShapeEquals(20, 6) {
		t.Fatalf("decoded as %s %v", got.DType, got.Shape)
	}
	for i, v := range got.Float32s() {
		if v != values[i] {
			t.Fatalf("value[%d] = %v, want %v", i, v, values[i])
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":           {},
		"header only":     {byte(Float32)},
		"unknown dtype":   {0x7f, 1, 0, 0, 0, 1, 0},
		"truncated shape": {byte(Uint8), 2, 0, 0, 0, 1},
		"short data":      {byte(Float32), 1, 0, 0, 0, 2, 0, 0, 0, 0},
	}
	for name, payload := range cases {
		if _, err := Decode(payload); err == nil {
			t.Errorf("%s: Decode accepted malformed payload", name)
		}
	}
}

func TestNewFloat32ShapeMismatch(t *testing.T) {
	if _, err := NewFloat32(make([]float32, 5), 20, 6); err == nil {
		t.Fatal("NewFloat32 accepted 5 values for a (20,6) shape")
	}
}

func TestNewUint8WrapsWithoutCopy(t *testing.T) {
	buf := make([]byte, 2*3*3)
	got, err := NewUint8(buf, 1, 2, 3, 3)
	if err != nil {
		t.Fatalf("NewUint8: %v", err)
	}
	buf[0] = 42
	if got.Data[0] != 42 {
		t.Fatal("NewUint8 copied the data")
	}
	if _, err := NewUint8(buf, 1, 4, 4, 3); err == nil {
		t.Fatal("NewUint8 accepted 18 bytes for a (1,4,4,3) shape")
	}
}

func TestFromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	red := color.RGBA{R: 200, G: 10, B: 30, A: 255}
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, red)
		}
	}

	frame := FromImage(img, 300, 300)
	if frame.DType != Uint8 || !frame.ShapeEquals(1, 300, 300, 3) {
		t.Fatalf("FromImage produced %s %v", frame.DType, frame.Shape)
	}
	// A uniform source stays uniform through scaling.
	for i := 0; i < len(frame.Data); i += 3 {
		if frame.Data[i] != 200 || frame.Data[i+1] != 10 || frame.Data[i+2] != 30 {
			t.Fatalf("pixel %d = (%d,%d,%d), want (200,10,30)",
				i/3, frame.Data[i], frame.Data[i+1], frame.Data[i+2])
		}
	}
}
