package preview

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/zsiec/duet/media"
)

func TestEncodeJPEG(t *testing.T) {
	t.Parallel()

	const w, h = 8, 6
	buf := &media.PixelBuffer{
		Width:  w,
		Height: h,
		Stride: w * 4,
		Format: media.FormatBGRA,
		Data:   make([]byte, w*h*4),
	}
	// Solid red in BGRA.
	for i := 0; i < len(buf.Data); i += 4 {
		buf.Data[i+2] = 0xFF
		buf.Data[i+3] = 0xFF
	}

	data, err := encodeJPEG(buf)
	if err != nil {
		t.Fatalf("encodeJPEG: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode produced JPEG: %v", err)
	}
	if got := img.Bounds(); got.Dx() != w || got.Dy() != h {
		t.Errorf("decoded bounds = %v, want %dx%d", got, w, h)
	}
	r, g, b, _ := img.At(4, 3).RGBA()
	if r < 0xE000 || g > 0x2000 || b > 0x2000 {
		t.Errorf("center pixel = (%d, %d, %d), want red", r>>8, g>>8, b>>8)
	}
}

func TestEncodeJPEGRejectsBadBuffer(t *testing.T) {
	t.Parallel()

	if _, err := encodeJPEG(nil); err == nil {
		t.Error("expected error for nil buffer")
	}
	if _, err := encodeJPEG(&media.PixelBuffer{Width: 2, Height: 2, Stride: 8, Format: media.FormatBGRA, Data: []byte{0}}); err == nil {
		t.Error("expected error for truncated buffer")
	}
}
