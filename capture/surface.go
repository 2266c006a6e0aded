package capture

import "github.com/zsiec/duet/media"

// Surface is a live preview tap for one camera. It holds only the most
// recent frame: a slow preview consumer sees the newest frame, never a
// growing backlog.
type Surface struct {
	name string
	ch   chan *media.PixelBuffer
}

func newSurface(name string) *Surface {
	return &Surface{name: name, ch: make(chan *media.PixelBuffer, 1)}
}

// Name returns the camera name this surface previews.
func (s *Surface) Name() string { return s.name }

// Frames returns the preview channel. At most one frame is pending at any
// time; receive promptly or the frame is replaced.
func (s *Surface) Frames() <-chan *media.PixelBuffer { return s.ch }

// publish replaces any pending frame with buf. Never blocks.
func (s *Surface) publish(buf *media.PixelBuffer) {
	for {
		select {
		case s.ch <- buf:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}
