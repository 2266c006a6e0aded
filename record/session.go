package record

import (
	"time"

	"github.com/zsiec/duet/encode"
	"github.com/zsiec/duet/media"
)

// session is the mutable state of one recording attempt. It is owned
// exclusively by the coordinator and touched only from the session queue, so
// it carries no locking of its own. The pending slots hold at most the most
// recent normalized frame per camera awaiting pairing.
type session struct {
	id   string
	path string

	writer ClipWriter
	video  encode.Video
	audio  encode.Audio

	videoStarted bool // encoder geometry is fixed by the first combined frame

	pendingFront *media.PixelBuffer
	pendingBack  *media.PixelBuffer

	anchored bool
	anchor   int64 // PTS of the first accepted video frame, microseconds

	startedAt    time.Time // recording entry, wall clock
	timer        *time.Timer
	progressDone chan struct{}
}

// setPending stores a normalized frame in the slot for its source,
// replacing any frame already waiting there.
func (s *session) setPending(src media.Source, buf *media.PixelBuffer) {
	if src == media.SourceFront {
		s.pendingFront = buf
	} else {
		s.pendingBack = buf
	}
}

// pairReady reports whether both slots are filled.
func (s *session) pairReady() bool {
	return s.pendingFront != nil && s.pendingBack != nil
}

// clearPending empties both slots.
func (s *session) clearPending() {
	s.pendingFront = nil
	s.pendingBack = nil
}

// disarm stops the cap timer and the progress loop, if armed.
func (s *session) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.progressDone != nil {
		close(s.progressDone)
		s.progressDone = nil
	}
}

// relPTS converts an absolute capture PTS to container time. The first call
// anchors the container's time origin.
func (s *session) relPTS(pts int64) int64 {
	if !s.anchored {
		s.anchor = pts
		s.anchored = true
	}
	return pts - s.anchor
}
