package transform

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/duet/media"
)

// packedBGRA builds a tightly packed BGRA buffer whose pixel at (x, y) is
// fill(x, y).
func packedBGRA(w, h int, fill func(x, y int) [4]byte) *media.PixelBuffer {
	return stridedBGRA(w, h, w*4, fill)
}

// stridedBGRA builds a BGRA buffer with explicit row stride; padding bytes
// are filled with a sentinel so a copy that reads them is detectable.
func stridedBGRA(w, h, stride int, fill func(x, y int) [4]byte) *media.PixelBuffer {
	data := make([]byte, stride*h)
	for i := range data {
		data[i] = 0xAB
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := fill(x, y)
			copy(data[y*stride+x*4:], px[:])
		}
	}
	return &media.PixelBuffer{Width: w, Height: h, Stride: stride, Format: media.FormatBGRA, Data: data}
}

func solid(px [4]byte) func(x, y int) [4]byte {
	return func(int, int) [4]byte { return px }
}

func TestStackHeightsAndRows(t *testing.T) {
	t.Parallel()

	top := packedBGRA(4, 3, solid([4]byte{1, 2, 3, 255}))
	bottom := packedBGRA(4, 2, solid([4]byte{9, 8, 7, 255}))

	out, err := Stack(top, bottom)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if out.Width != 4 || out.Height != 5 {
		t.Fatalf("dimensions: got %dx%d, want 4x5", out.Width, out.Height)
	}

	rowBytes := out.Width * 4
	for y := 0; y < 3; y++ {
		got := out.Data[y*out.Stride : y*out.Stride+rowBytes]
		want := top.Data[y*top.Stride : y*top.Stride+rowBytes]
		if !bytes.Equal(got, want) {
			t.Errorf("top row %d differs", y)
		}
	}
	for y := 0; y < 2; y++ {
		got := out.Data[(3+y)*out.Stride : (3+y)*out.Stride+rowBytes]
		want := bottom.Data[y*bottom.Stride : y*bottom.Stride+rowBytes]
		if !bytes.Equal(got, want) {
			t.Errorf("bottom row %d differs", y)
		}
	}
}

func TestStackIgnoresSourceStridePadding(t *testing.T) {
	t.Parallel()

	// Same pixels, wildly different strides. Output must be identical.
	fill := func(x, y int) [4]byte { return [4]byte{byte(x), byte(y), byte(x + y), 255} }
	a, err := Stack(packedBGRA(4, 3, fill), packedBGRA(4, 2, fill))
	if err != nil {
		t.Fatalf("packed Stack: %v", err)
	}
	b, err := Stack(stridedBGRA(4, 3, 64, fill), stridedBGRA(4, 2, 100, fill))
	if err != nil {
		t.Fatalf("strided Stack: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Error("stride padding leaked into stacked output")
	}
	if a.Stride != 16 || b.Stride != 16 {
		t.Errorf("output stride: got %d/%d, want packed 16", a.Stride, b.Stride)
	}
}

func TestStackWidthMismatch(t *testing.T) {
	t.Parallel()

	_, err := Stack(packedBGRA(4, 2, solid([4]byte{})), packedBGRA(6, 2, solid([4]byte{})))
	if !errors.Is(err, ErrWidthMismatch) {
		t.Fatalf("error: got %v, want ErrWidthMismatch", err)
	}
}

func TestCombineWidthMismatchAfterRotation(t *testing.T) {
	t.Parallel()

	// Rotation swaps dimensions, so the post-rotation width is the input
	// height. Inputs with differing heights must fail.
	_, err := Combine(packedBGRA(4, 6, solid([4]byte{})), packedBGRA(4, 8, solid([4]byte{})))
	if !errors.Is(err, ErrWidthMismatch) {
		t.Fatalf("error: got %v, want ErrWidthMismatch", err)
	}
}

func TestCombineDimensions(t *testing.T) {
	t.Parallel()

	out, err := Combine(packedBGRA(6, 4, solid([4]byte{1, 1, 1, 255})), packedBGRA(8, 4, solid([4]byte{2, 2, 2, 255})))
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	// Post-rotation: top 4x6, bottom 4x8; stacked 4x14.
	if out.Width != 4 || out.Height != 14 {
		t.Errorf("dimensions: got %dx%d, want 4x14", out.Width, out.Height)
	}
}

func TestRotateLeftMirrored(t *testing.T) {
	t.Parallel()

	// 2x1 input: pixel A then B. LeftMirrored maps dst(x,y) to
	// src(W-1-y, H-1-x): dst(0,0) = src(1,0) = B, dst(0,1) = src(0,0) = A.
	a := [4]byte{10, 20, 30, 255}
	b := [4]byte{40, 50, 60, 255}
	in := packedBGRA(2, 1, func(x, _ int) [4]byte {
		if x == 0 {
			return a
		}
		return b
	})

	out, err := Rotate(in, OrientationLeftMirrored)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if out.Width != 1 || out.Height != 2 {
		t.Fatalf("dimensions: got %dx%d, want 1x2", out.Width, out.Height)
	}
	if !bytes.Equal(out.Data[0:4], b[:]) {
		t.Errorf("dst(0,0): got %v, want %v", out.Data[0:4], b)
	}
	if !bytes.Equal(out.Data[4:8], a[:]) {
		t.Errorf("dst(0,1): got %v, want %v", out.Data[4:8], a)
	}
}

func TestRotateRejectsNonCanonical(t *testing.T) {
	t.Parallel()

	in := &media.PixelBuffer{Width: 2, Height: 2, Stride: 8, Format: media.FormatRGBA, Data: make([]byte, 16)}
	if _, err := Rotate(in, OrientationLeft); !errors.Is(err, ErrNotCanonical) {
		t.Fatalf("error: got %v, want ErrNotCanonical", err)
	}
}

func TestNormalizeRGBASwizzle(t *testing.T) {
	t.Parallel()

	in := &media.PixelBuffer{
		Width: 1, Height: 1, Stride: 4, Format: media.FormatRGBA,
		Data: []byte{0x11, 0x22, 0x33, 0x44}, // R G B A
	}
	out, err := Normalize(in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []byte{0x33, 0x22, 0x11, 0x44} // B G R A
	if !bytes.Equal(out.Data, want) {
		t.Errorf("swizzle: got %v, want %v", out.Data, want)
	}
	if out.Format != media.FormatBGRA {
		t.Errorf("format: got %s, want bgra", out.Format)
	}
}

func TestNormalizeNV12Gray(t *testing.T) {
	t.Parallel()

	// Mid-gray: Y=128, U=V=128 (zero chroma) should land near RGB(128,128,128).
	w, h := 2, 2
	data := make([]byte, w*h+w*h/2)
	for i := range data {
		data[i] = 128
	}
	in := &media.PixelBuffer{Width: w, Height: h, Stride: w, Format: media.FormatNV12, Data: data}

	out, err := Normalize(in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for i := 0; i < len(out.Data); i += 4 {
		for c := 0; c < 3; c++ {
			v := int(out.Data[i+c])
			if v < 126 || v > 130 {
				t.Fatalf("pixel %d channel %d: got %d, want ~128", i/4, c, v)
			}
		}
		if out.Data[i+3] != 0xFF {
			t.Fatalf("alpha: got %d, want 255", out.Data[i+3])
		}
	}
}

func TestNormalizeTruncated(t *testing.T) {
	t.Parallel()

	in := &media.PixelBuffer{Width: 4, Height: 4, Stride: 16, Format: media.FormatBGRA, Data: make([]byte, 10)}
	if _, err := Normalize(in); !errors.Is(err, ErrTruncatedBuffer) {
		t.Fatalf("error: got %v, want ErrTruncatedBuffer", err)
	}
}
