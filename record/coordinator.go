// Package record owns the recording lifecycle: it pairs front/back camera
// frames into combined portrait frames, muxes them with microphone audio
// into a fragmented MP4 capped at a fixed duration, and hands the finished
// file to a media storage sink.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/duet/encode"
	"github.com/zsiec/duet/media"
	"github.com/zsiec/duet/transform"
)

// progressInterval is how often progress events are emitted while recording.
const progressInterval = 100 * time.Millisecond

// eventBufferSize bounds the coordinator's event channel. A consumer that
// falls further behind loses events rather than stalling the session queue.
const eventBufferSize = 64

// Sink persists a finished recording into a named album. The coordinator
// borrows only the file path; the sink never sees the session.
type Sink interface {
	Save(ctx context.Context, filePath, album string) error
}

// WriterFactory creates the clip writer for a new recording session.
type WriterFactory func(path string, sampleRate, fps int) (ClipWriter, error)

// EncoderFactory creates the per-session video and audio encoders.
type EncoderFactory func() (encode.Video, encode.Audio)

// Config carries the fixed recording parameters.
type Config struct {
	Album       string
	MaxDuration time.Duration // hard cap, default 15s
	FrameRate   int           // video track rate, default 30
	SampleRate  int           // audio track rate, default 44100
	TempDir     string        // container staging dir, default os.TempDir()
}

func (c Config) withDefaults() Config {
	if c.Album == "" {
		c.Album = "Duet"
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 15 * time.Second
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	return c
}

// Coordinator is the recording state machine. All mutation happens on one
// serial queue drained by Run: capture frames, start/stop requests, and the
// cap-timer expiry are all posted there, so the session needs no locking.
// Per-frame work (normalize, combine, encode, append) runs synchronously on
// that queue, applying natural backpressure to the capture callback.
type Coordinator struct {
	log  *slog.Logger
	cfg  Config
	sink Sink

	newWriter   WriterFactory
	newEncoders EncoderFactory

	ops     chan func()
	runDone chan struct{}
	state   atomic.Int32
	events  chan Event

	sess *session // queue-owned
}

// New creates an idle coordinator. If log is nil, slog.Default() is used.
func New(cfg Config, sink Sink, newWriter WriterFactory, newEncoders EncoderFactory, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		log:         log.With("component", "record-coordinator"),
		cfg:         cfg.withDefaults(),
		sink:        sink,
		newWriter:   newWriter,
		newEncoders: newEncoders,
		ops:         make(chan func(), media.VideoBufferSize),
		runDone:     make(chan struct{}),
		events:      make(chan Event, eventBufferSize),
	}
}

// Run drains the session queue. It blocks until the context is cancelled;
// an in-flight recording is aborted on exit.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.runDone)
	for {
		select {
		case <-ctx.Done():
			if c.sess != nil {
				c.log.Warn("shutting down with active recording, aborting")
				c.teardownSession()
				c.setState(StateIdle, "recording aborted at shutdown", nil)
			}
			return nil
		case op := <-c.ops:
			op()
		}
	}
}

// State returns the current state. Safe from any goroutine.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Events returns the notification channel. State transitions and progress
// ticks are delivered here, off the session queue.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Start requests a new recording. No-op unless idle or in error.
func (c *Coordinator) Start() {
	c.post(c.handleStart)
}

// Stop requests the end of the active recording. During starting it aborts
// without producing a file; during recording it finalizes and saves.
func (c *Coordinator) Stop() {
	c.post(func() { c.handleStop(false) })
}

// HandleFrame accepts one capture sample. It is the capture session's
// output callback: the send blocks while the queue is full, so a slow
// encode cycle backpressures delivery instead of racing it.
func (c *Coordinator) HandleFrame(f *media.CaptureFrame) {
	c.post(func() { c.handleFrame(f) })
}

// post queues an op, giving up silently once Run has exited.
func (c *Coordinator) post(op func()) {
	select {
	case c.ops <- op:
	case <-c.runDone:
	}
}

func (c *Coordinator) handleStart() {
	switch c.State() {
	case StateIdle, StateError:
	default:
		c.log.Warn("start ignored", "state", c.State())
		return
	}

	c.setState(StateStarting, "preparing recording", nil)

	id := uuid.NewString()
	path := filepath.Join(c.cfg.TempDir, "duet-"+id+".mp4")

	writer, err := c.newWriter(path, c.cfg.SampleRate, c.cfg.FrameRate)
	if err != nil {
		c.setState(StateError, "could not create recording container", err)
		return
	}

	video, audio := c.newEncoders()
	if err := audio.Start(c.cfg.SampleRate); err != nil {
		writer.Abort()
		c.setState(StateError, "could not start audio encoder", err)
		return
	}

	c.sess = &session{
		id:     id,
		path:   path,
		writer: writer,
		video:  video,
		audio:  audio,
	}
	c.log.Info("recording session created", "id", id, "path", path)
	// Still starting: the transition to recording happens once the writer
	// accepts the first combined video sample.
}

func (c *Coordinator) handleStop(fromTimer bool) {
	switch c.State() {
	case StateStarting:
		// Abort: no file, no sink call.
		c.teardownSession()
		c.setState(StateIdle, "recording cancelled", nil)

	case StateRecording:
		if fromTimer {
			c.log.Info("duration cap reached", "cap", c.cfg.MaxDuration)
		}
		c.finish()

	default:
		// Idle, already stopping/saving, or in error: nothing to stop.
	}
}

func (c *Coordinator) handleFrame(f *media.CaptureFrame) {
	// Late samples after stop are silently ignored.
	switch c.State() {
	case StateStarting, StateRecording:
	default:
		return
	}

	if f.IsVideo() {
		c.handleVideoFrame(f)
	} else {
		c.handleAudioFrame(f)
	}
}

func (c *Coordinator) handleVideoFrame(f *media.CaptureFrame) {
	sess := c.sess

	norm, err := transform.Normalize(f.Pixels)
	if err != nil {
		// Transient per-frame failure: drop, keep recording.
		c.log.Debug("normalize failed, frame dropped", "source", f.Source, "error", err)
		return
	}
	sess.setPending(f.Source, norm)
	if !sess.pairReady() {
		return
	}

	combined, err := transform.Combine(sess.pendingFront, sess.pendingBack)
	sess.clearPending()
	if err != nil {
		c.log.Debug("combine failed, pair dropped", "error", err)
		return
	}

	if !sess.videoStarted {
		if err := sess.video.Start(combined.Width, combined.Height, c.cfg.FrameRate); err != nil {
			c.fail("could not start video encoder", err)
			return
		}
		sess.videoStarted = true
	}

	aus, err := sess.video.Encode(combined, sess.relPTS(f.PTS))
	if err != nil {
		c.fail("video encoder failed", err)
		return
	}
	for _, au := range aus {
		if err := sess.writer.WriteVideo(au); err != nil {
			c.fail("could not append video sample", err)
			return
		}
	}

	if c.State() == StateStarting && sess.writer.Ready() {
		c.enterRecording()
	}
}

func (c *Coordinator) handleAudioFrame(f *media.CaptureFrame) {
	sess := c.sess

	frames, err := sess.audio.Encode(f.PCM)
	if err != nil {
		c.fail("audio encoder failed", err)
		return
	}
	for _, frame := range frames {
		if !sess.writer.Ready() {
			continue // track cannot accept yet: drop, no backpressure buffer
		}
		if err := sess.writer.WriteAudio(frame); err != nil {
			if errors.Is(err, ErrNotReady) {
				continue
			}
			c.fail("could not append audio sample", err)
			return
		}
	}
}

// enterRecording arms the duration cap and the progress loop.
func (c *Coordinator) enterRecording() {
	sess := c.sess
	sess.startedAt = time.Now()
	sess.timer = time.AfterFunc(c.cfg.MaxDuration, func() {
		c.post(func() { c.handleStop(true) })
	})
	sess.progressDone = make(chan struct{})
	go c.progressLoop(sess.startedAt, sess.progressDone)

	c.setState(StateRecording, "recording", nil)
}

// progressLoop emits a monotonic 0..1 progress value as the cap window
// elapses, driven by the same wall clock that enforces the cap.
func (c *Coordinator) progressLoop(started time.Time, done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p := float64(time.Since(started)) / float64(c.cfg.MaxDuration)
			if p > 1 {
				p = 1
			}
			c.emit(Event{Kind: EventProgress, State: StateRecording, Progress: p})
		}
	}
}

// finish drives recording → stopping → saving → idle, or → error.
func (c *Coordinator) finish() {
	sess := c.sess
	c.setState(StateStopping, "finishing recording", nil)
	sess.disarm()

	// Flush the encoders; both tracks are finished after this point.
	tail, err := sess.video.Close()
	if err != nil {
		c.fail("video encoder flush failed", err)
		return
	}
	for _, au := range tail {
		if err := sess.writer.WriteVideo(au); err != nil {
			c.fail("could not append video sample", err)
			return
		}
	}
	audioTail, err := sess.audio.Close()
	if err != nil {
		c.fail("audio encoder flush failed", err)
		return
	}
	for _, frame := range audioTail {
		if !sess.writer.Ready() {
			continue
		}
		if err := sess.writer.WriteAudio(frame); err != nil && !errors.Is(err, ErrNotReady) {
			c.fail("could not append audio sample", err)
			return
		}
	}

	videoSamples := sess.writer.VideoSampleCount()
	audioSamples := sess.writer.AudioSampleCount()
	if err := sess.writer.Close(); err != nil {
		c.sess = nil
		c.setState(StateError, "could not finalize recording", err)
		return
	}
	c.log.Info("container finalized",
		"path", sess.path,
		"video_samples", videoSamples,
		"audio_samples", audioSamples,
	)

	c.setState(StateSaving, "saving to album", nil)
	if err := c.sink.Save(context.Background(), sess.path, c.cfg.Album); err != nil {
		c.sess = nil
		c.setState(StateError, fmt.Sprintf("could not save recording: %v", err), err)
		return
	}

	os.Remove(sess.path) // staged copy, sink holds the inserted item
	c.sess = nil
	c.setState(StateIdle, "saved to album "+c.cfg.Album, nil)
}

// fail tears down the active session and enters the error state.
func (c *Coordinator) fail(msg string, err error) {
	c.log.Error(msg, "error", err)
	c.teardownSession()
	c.setState(StateError, msg, err)
}

// teardownSession releases every session resource: timer, progress loop,
// encoders, and the partial container file.
func (c *Coordinator) teardownSession() {
	sess := c.sess
	if sess == nil {
		return
	}
	sess.disarm()
	sess.video.Close()
	sess.audio.Close()
	sess.writer.Abort()
	c.sess = nil
}

// setState records the transition and notifies listeners.
func (c *Coordinator) setState(s State, msg string, err error) {
	prev := c.State()
	c.state.Store(int32(s))
	if err != nil {
		c.log.Warn("state transition", "from", prev, "to", s, "message", msg, "error", err)
	} else {
		c.log.Info("state transition", "from", prev, "to", s, "message", msg)
	}
	c.emit(Event{Kind: EventState, State: s, Message: msg, Err: err})
}

// emit delivers an event without ever blocking the session queue.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Debug("event dropped, consumer behind", "kind", ev.Kind, "state", ev.State)
	}
}
