// Package encode turns canonical pixel buffers and PCM chunks into H.264
// access units and AAC frames for muxing. The production implementations
// pipe raw samples through an ffmpeg subprocess; the interfaces keep the
// recording coordinator testable without one.
package encode

import (
	"errors"

	"github.com/zsiec/duet/media"
)

// Encoder lifecycle errors.
var (
	ErrNotStarted   = errors.New("encoder not started")
	ErrClosed       = errors.New("encoder closed")
	ErrNotCanonical = errors.New("frame is not canonical BGRA")
)

// AccessUnit is one encoded video picture in Annex B byte-stream format,
// tagged with the presentation timestamp of the source frame.
type AccessUnit struct {
	Data []byte
	Key  bool
	PTS  int64 // microseconds
}

// Video encodes canonical BGRA frames into H.264 access units. Encode may
// return zero units while the underlying encoder buffers; Close flushes and
// returns whatever remains.
type Video interface {
	Start(width, height, fps int) error
	Encode(buf *media.PixelBuffer, pts int64) ([]AccessUnit, error)
	Close() ([]AccessUnit, error)
}

// Audio encodes s16le mono PCM into complete ADTS-wrapped AAC frames.
type Audio interface {
	Start(sampleRate int) error
	Encode(pcm []byte) ([][]byte, error)
	Close() ([][]byte, error)
}
