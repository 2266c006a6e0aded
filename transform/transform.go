// Package transform converts raw camera frames into the canonical pixel
// format, rotates them into portrait orientation, and stitches front/back
// pairs into a single combined frame for encoding.
package transform

import (
	"errors"
	"fmt"

	"github.com/zsiec/duet/media"
)

// Validation errors. Truncated or malformed buffers are rejected before any
// pixel work happens so composition never reads out of bounds.
var (
	ErrNilBuffer         = errors.New("nil pixel buffer")
	ErrBadDimensions     = errors.New("non-positive buffer dimensions")
	ErrTruncatedBuffer   = errors.New("buffer data shorter than stride layout")
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrNotCanonical      = errors.New("buffer is not in canonical BGRA format")
	ErrWidthMismatch     = errors.New("post-rotation widths differ")
)

const bytesPerPixel = 4

// Orientation selects one of the 90°-class rotations applied to sensor
// buffers to produce the app's portrait deliverable.
type Orientation int

// Supported orientations. Both camera streams use LeftMirrored so that the
// front (selfie) and back frames come out as matching portrait buffers.
const (
	OrientationUp Orientation = iota
	OrientationLeft
	OrientationRight
	OrientationLeftMirrored
	OrientationRightMirrored
)

// captureOrientation is the fixed rotation applied by Combine to both inputs.
const captureOrientation = OrientationLeftMirrored

// Normalize renders buf into a newly allocated canonical BGRA buffer at the
// same dimensions. The output is always tightly packed (stride == width*4)
// regardless of the input stride.
func Normalize(buf *media.PixelBuffer) (*media.PixelBuffer, error) {
	if err := validate(buf); err != nil {
		return nil, err
	}

	out := &media.PixelBuffer{
		Width:  buf.Width,
		Height: buf.Height,
		Stride: buf.Width * bytesPerPixel,
		Format: media.FormatBGRA,
		Data:   make([]byte, buf.Width*buf.Height*bytesPerPixel),
	}

	switch buf.Format {
	case media.FormatBGRA:
		copyPacked(out, buf)
	case media.FormatRGBA:
		swizzleRGBA(out, buf)
	case media.FormatNV12:
		convertNV12(out, buf)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, buf.Format)
	}
	return out, nil
}

// Rotate applies the given 90°-class rotation to a canonical BGRA buffer,
// returning a newly allocated, tightly packed result. OrientationUp copies
// the input unrotated.
func Rotate(buf *media.PixelBuffer, o Orientation) (*media.PixelBuffer, error) {
	if err := validate(buf); err != nil {
		return nil, err
	}
	if buf.Format != media.FormatBGRA {
		return nil, ErrNotCanonical
	}

	outW, outH := buf.Width, buf.Height
	if o != OrientationUp {
		outW, outH = buf.Height, buf.Width
	}

	out := &media.PixelBuffer{
		Width:  outW,
		Height: outH,
		Stride: outW * bytesPerPixel,
		Format: media.FormatBGRA,
		Data:   make([]byte, outW*outH*bytesPerPixel),
	}

	if o == OrientationUp {
		copyPacked(out, buf)
		return out, nil
	}

	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			var sx, sy int
			switch o {
			case OrientationLeft:
				sx, sy = buf.Width-1-y, x
			case OrientationRight:
				sx, sy = y, buf.Height-1-x
			case OrientationLeftMirrored:
				sx, sy = buf.Width-1-y, buf.Height-1-x
			case OrientationRightMirrored:
				sx, sy = y, x
			default:
				return nil, fmt.Errorf("unknown orientation %d", int(o))
			}
			si := sy*buf.Stride + sx*bytesPerPixel
			di := y*out.Stride + x*bytesPerPixel
			copy(out.Data[di:di+bytesPerPixel], buf.Data[si:si+bytesPerPixel])
		}
	}
	return out, nil
}

// Combine rotates both canonical inputs into portrait orientation and stacks
// them vertically, top above bottom. It fails if either rotation fails or the
// post-rotation widths differ.
func Combine(top, bottom *media.PixelBuffer) (*media.PixelBuffer, error) {
	rt, err := Rotate(top, captureOrientation)
	if err != nil {
		return nil, fmt.Errorf("rotate top: %w", err)
	}
	rb, err := Rotate(bottom, captureOrientation)
	if err != nil {
		return nil, fmt.Errorf("rotate bottom: %w", err)
	}
	return Stack(rt, rb)
}

// Stack vertically concatenates two canonical buffers of equal width into a
// buffer of height top.Height+bottom.Height. Rows are copied one at a time
// because each input may carry its own stride padding; the output is always
// tightly packed.
func Stack(top, bottom *media.PixelBuffer) (*media.PixelBuffer, error) {
	if err := validate(top); err != nil {
		return nil, err
	}
	if err := validate(bottom); err != nil {
		return nil, err
	}
	if top.Format != media.FormatBGRA || bottom.Format != media.FormatBGRA {
		return nil, ErrNotCanonical
	}
	if top.Width != bottom.Width {
		return nil, fmt.Errorf("%w: top %d, bottom %d", ErrWidthMismatch, top.Width, bottom.Width)
	}

	w := top.Width
	out := &media.PixelBuffer{
		Width:  w,
		Height: top.Height + bottom.Height,
		Stride: w * bytesPerPixel,
		Format: media.FormatBGRA,
		Data:   make([]byte, w*(top.Height+bottom.Height)*bytesPerPixel),
	}

	rowBytes := w * bytesPerPixel
	for y := 0; y < top.Height; y++ {
		copy(out.Data[y*out.Stride:y*out.Stride+rowBytes], top.Data[y*top.Stride:y*top.Stride+rowBytes])
	}
	off := top.Height * out.Stride
	for y := 0; y < bottom.Height; y++ {
		copy(out.Data[off+y*out.Stride:off+y*out.Stride+rowBytes], bottom.Data[y*bottom.Stride:y*bottom.Stride+rowBytes])
	}
	return out, nil
}

// validate checks buffer structure against its declared format and stride.
func validate(buf *media.PixelBuffer) error {
	if buf == nil {
		return ErrNilBuffer
	}
	if buf.Width <= 0 || buf.Height <= 0 {
		return ErrBadDimensions
	}

	switch buf.Format {
	case media.FormatBGRA, media.FormatRGBA:
		if buf.Stride < buf.Width*bytesPerPixel {
			return fmt.Errorf("%w: stride %d for width %d", ErrTruncatedBuffer, buf.Stride, buf.Width)
		}
		if len(buf.Data) < buf.Stride*(buf.Height-1)+buf.Width*bytesPerPixel {
			return ErrTruncatedBuffer
		}
	case media.FormatNV12:
		if buf.Width%2 != 0 || buf.Height%2 != 0 {
			return fmt.Errorf("%w: NV12 requires even dimensions", ErrBadDimensions)
		}
		if buf.Stride < buf.Width {
			return fmt.Errorf("%w: stride %d for width %d", ErrTruncatedBuffer, buf.Stride, buf.Width)
		}
		if len(buf.Data) < buf.Stride*buf.Height+buf.Stride*buf.Height/2 {
			return ErrTruncatedBuffer
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, buf.Format)
	}
	return nil
}

// copyPacked copies a 32-bit buffer row by row, collapsing any source stride
// padding into the tightly packed destination.
func copyPacked(dst, src *media.PixelBuffer) {
	rowBytes := src.Width * bytesPerPixel
	for y := 0; y < src.Height; y++ {
		copy(dst.Data[y*dst.Stride:y*dst.Stride+rowBytes], src.Data[y*src.Stride:y*src.Stride+rowBytes])
	}
}

// swizzleRGBA converts RGBA to BGRA by swapping the R and B channels.
func swizzleRGBA(dst, src *media.PixelBuffer) {
	for y := 0; y < src.Height; y++ {
		srow := src.Data[y*src.Stride:]
		drow := dst.Data[y*dst.Stride:]
		for x := 0; x < src.Width; x++ {
			i := x * bytesPerPixel
			drow[i+0] = srow[i+2]
			drow[i+1] = srow[i+1]
			drow[i+2] = srow[i+0]
			drow[i+3] = srow[i+3]
		}
	}
}

// convertNV12 converts 4:2:0 biplanar YUV to BGRA using BT.601 full-range
// integer math. Each 2x2 luma block shares one interleaved UV sample.
func convertNV12(dst, src *media.PixelBuffer) {
	lumaPlane := src.Data
	chromaPlane := src.Data[src.Stride*src.Height:]

	for y := 0; y < src.Height; y++ {
		lrow := lumaPlane[y*src.Stride:]
		crow := chromaPlane[(y/2)*src.Stride:]
		drow := dst.Data[y*dst.Stride:]
		for x := 0; x < src.Width; x++ {
			yv := int(lrow[x])
			cb := int(crow[(x/2)*2]) - 128
			cr := int(crow[(x/2)*2+1]) - 128

			r := yv + (91881*cr)>>16
			g := yv - ((22554*cb)+(46802*cr))>>16
			b := yv + (116130*cb)>>16

			i := x * bytesPerPixel
			drow[i+0] = clamp8(b)
			drow[i+1] = clamp8(g)
			drow[i+2] = clamp8(r)
			drow[i+3] = 0xFF
		}
	}
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
