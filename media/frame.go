// Package media defines the core sample types that flow through the Duet
// capture pipeline, from device capture through compositing and recording.
package media

import "fmt"

// Channel buffer sizes used by devices (producers) and the capture session
// (consumer) to decouple sample production from consumption. Sized to absorb
// jitter without excessive memory: ~1 second of video per camera, ~1s of audio.
const (
	VideoBufferSize = 30
	AudioBufferSize = 45
)

// Source identifies which device produced a capture sample.
type Source int

// Capture sources. A session has exactly one device per source.
const (
	SourceFront Source = iota // front-facing camera
	SourceBack                // back-facing camera
	SourceAudio               // microphone
)

// String returns the wire/log name of the source.
func (s Source) String() string {
	switch s {
	case SourceFront:
		return "front"
	case SourceBack:
		return "back"
	case SourceAudio:
		return "audio"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// PixelFormat identifies the memory layout of a PixelBuffer.
type PixelFormat int

// Supported pixel formats. FormatBGRA is the canonical format: every buffer
// entering composition or encoding must already be BGRA.
const (
	FormatBGRA PixelFormat = iota // 32-bit packed, canonical
	FormatRGBA                    // 32-bit packed, needs channel swizzle
	FormatNV12                    // 4:2:0 biplanar, typical sensor output
)

// String returns the short name of the pixel format.
func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA:
		return "bgra"
	case FormatRGBA:
		return "rgba"
	case FormatNV12:
		return "nv12"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// PixelBuffer is a single raw video frame. Stride is the number of bytes per
// row in Data, which may exceed the packed row width when the producer pads
// rows for alignment. For NV12 the chroma plane follows the luma plane at
// Stride*Height with the same stride.
type PixelBuffer struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Data   []byte
}

// CaptureFrame is one tagged sample emitted by the capture session: a video
// frame (Pixels set) or an audio chunk (PCM set), never both. PTS is a
// monotonic presentation timestamp in microseconds; ordering is guaranteed
// per source only. Frames are consumed or dropped within one processing
// cycle and must not be retained by downstream consumers.
type CaptureFrame struct {
	Source Source
	Pixels *PixelBuffer
	PCM    []byte // interleaved s16le mono
	PTS    int64
}

// IsVideo reports whether the frame carries a pixel buffer.
func (f *CaptureFrame) IsVideo() bool {
	return f.Source == SourceFront || f.Source == SourceBack
}
