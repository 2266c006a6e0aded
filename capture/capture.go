// Package capture binds two cameras and a microphone into a single
// dual-stream session, delivering every emitted sample tagged by source to
// one downstream consumer on a serial session queue.
package capture

import (
	"context"
	"errors"

	"github.com/zsiec/duet/media"
)

// Configuration errors. Any missing or unopenable device aborts configuration
// atomically: devices opened earlier in the same attempt are closed and no
// partial session is ever exposed.
var (
	ErrMissingDevice     = errors.New("required capture device not present")
	ErrNotConfigured     = errors.New("session not configured")
	ErrAlreadyConfigured = errors.New("session already configured")
	ErrNoOutput          = errors.New("no sample output set")
)

// VideoSample is one untagged raw frame from a camera. The session tags it
// with a Source before delivery.
type VideoSample struct {
	Pixels *media.PixelBuffer
	PTS    int64 // microseconds, monotonic per device
}

// AudioSample is one untagged PCM chunk from a microphone.
type AudioSample struct {
	PCM []byte // interleaved s16le mono
	PTS int64
}

// VideoDevice is a single camera. Open starts capture and returns the sample
// channel; the channel is closed when the device stops or ctx is cancelled.
// Implementations must drop frames rather than block when the consumer falls
// behind the channel buffer.
type VideoDevice interface {
	Name() string
	Open(ctx context.Context) (<-chan VideoSample, error)
	Close() error
}

// AudioDevice is a single microphone.
type AudioDevice interface {
	Name() string
	Open(ctx context.Context) (<-chan AudioSample, error)
	Close() error
}

// Deck is the set of devices a session binds: front camera, back camera,
// and microphone. All three are required.
type Deck struct {
	Front VideoDevice
	Back  VideoDevice
	Mic   AudioDevice
}
