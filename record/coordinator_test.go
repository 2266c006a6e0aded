package record

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/duet/encode"
	"github.com/zsiec/duet/media"
)

// stubVideo emits one keyframe access unit per encoded frame.
type stubVideo struct {
	started    bool
	width      int
	height     int
	encoded    int
	closeTail  []encode.AccessUnit
	closedOnce bool
}

func (v *stubVideo) Start(width, height, fps int) error {
	v.started = true
	v.width = width
	v.height = height
	return nil
}

func (v *stubVideo) Encode(buf *media.PixelBuffer, pts int64) ([]encode.AccessUnit, error) {
	v.encoded++
	return []encode.AccessUnit{{Data: []byte{0x00, 0x00, 0x00, 0x01, 0x65}, Key: true, PTS: pts}}, nil
}

func (v *stubVideo) Close() ([]encode.AccessUnit, error) {
	v.closedOnce = true
	return v.closeTail, nil
}

type stubAudio struct {
	started bool
}

func (a *stubAudio) Start(sampleRate int) error {
	a.started = true
	return nil
}

func (a *stubAudio) Encode(pcm []byte) ([][]byte, error) {
	return [][]byte{append([]byte(nil), pcm...)}, nil
}

func (a *stubAudio) Close() ([][]byte, error) { return nil, nil }

// stubWriter becomes Ready after its first video sample, mirroring the real
// writer's lazy init from the first keyframe.
type stubWriter struct {
	mu      sync.Mutex
	ready   bool
	video   int
	audio   int
	closed  bool
	aborted bool
}

func (w *stubWriter) WriteVideo(au encode.AccessUnit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ready = true
	w.video++
	return nil
}

func (w *stubWriter) WriteAudio(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ready {
		return ErrNotReady
	}
	w.audio++
	return nil
}

func (w *stubWriter) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

func (w *stubWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *stubWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aborted = true
	return nil
}

func (w *stubWriter) VideoSampleCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.video
}

func (w *stubWriter) AudioSampleCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.audio
}

type stubSink struct {
	mu     sync.Mutex
	calls  int
	paths  []string
	albums []string
	err    error
}

func (s *stubSink) Save(ctx context.Context, filePath, album string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls++
	s.paths = append(s.paths, filePath)
	s.albums = append(s.albums, album)
	return nil
}

func (s *stubSink) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testRig struct {
	coord  *Coordinator
	writer *stubWriter
	video  *stubVideo
	audio  *stubAudio
	sink   *stubSink
	cancel context.CancelFunc
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()

	rig := &testRig{
		writer: &stubWriter{},
		video:  &stubVideo{},
		audio:  &stubAudio{},
		sink:   &stubSink{},
	}
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	rig.coord = New(cfg, rig.sink,
		func(path string, sampleRate, fps int) (ClipWriter, error) { return rig.writer, nil },
		func() (encode.Video, encode.Audio) { return rig.video, rig.audio },
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	rig.cancel = cancel
	go rig.coord.Run(ctx)
	t.Cleanup(cancel)
	return rig
}

// drainQueue posts a no-op and waits for it, so every op posted before it
// has been processed.
func (r *testRig) drainQueue(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	r.coord.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session queue did not drain")
	}
}

func (r *testRig) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.coord.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", r.coord.State(), want)
}

func videoFrame(src media.Source, pts int64) *media.CaptureFrame {
	const w, h = 4, 4
	return &media.CaptureFrame{
		Source: src,
		PTS:    pts,
		Pixels: &media.PixelBuffer{
			Width:  w,
			Height: h,
			Stride: w * 4,
			Format: media.FormatBGRA,
			Data:   make([]byte, w*h*4),
		},
	}
}

func audioFrame(pts int64) *media.CaptureFrame {
	return &media.CaptureFrame{
		Source: media.SourceAudio,
		PTS:    pts,
		PCM:    make([]byte, 2048),
	}
}

func TestPairBeforeAppend(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})

	rig.coord.Start()
	rig.drainQueue(t)

	// A lone front frame must not produce a sample.
	rig.coord.HandleFrame(videoFrame(media.SourceFront, 1000))
	rig.drainQueue(t)
	if got := rig.writer.VideoSampleCount(); got != 0 {
		t.Fatalf("video samples after unpaired frame = %d, want 0", got)
	}
	if rig.coord.State() != StateStarting {
		t.Fatalf("state = %v, want %v", rig.coord.State(), StateStarting)
	}

	// Its back partner completes the pair.
	rig.coord.HandleFrame(videoFrame(media.SourceBack, 1100))
	rig.drainQueue(t)
	if got := rig.writer.VideoSampleCount(); got != 1 {
		t.Fatalf("video samples after pair = %d, want 1", got)
	}
	rig.waitState(t, StateRecording)

	// Slots were cleared: another lone front frame pairs with nothing.
	rig.coord.HandleFrame(videoFrame(media.SourceFront, 2000))
	rig.drainQueue(t)
	if got := rig.writer.VideoSampleCount(); got != 1 {
		t.Fatalf("video samples after second unpaired frame = %d, want 1", got)
	}
}

func TestCombinedGeometry(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})

	rig.coord.Start()
	rig.coord.HandleFrame(videoFrame(media.SourceFront, 0))
	rig.coord.HandleFrame(videoFrame(media.SourceBack, 0))
	rig.drainQueue(t)

	// 4x4 inputs rotate to 4x4 and stack to 4x8.
	if rig.video.width != 4 || rig.video.height != 8 {
		t.Fatalf("encoder started at %dx%d, want 4x8", rig.video.width, rig.video.height)
	}
}

func TestStopDuringStartingAborts(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})

	rig.coord.Start()
	rig.coord.Stop()
	rig.drainQueue(t)

	rig.waitState(t, StateIdle)
	if !rig.writer.aborted {
		t.Error("writer was not aborted")
	}
	if rig.writer.closed {
		t.Error("writer was closed, want abort only")
	}
	if got := rig.sink.saveCount(); got != 0 {
		t.Errorf("sink calls = %d, want 0", got)
	}
}

func TestDurationCapForcesStop(t *testing.T) {
	t.Parallel()
	const capDur = 150 * time.Millisecond
	rig := newTestRig(t, Config{MaxDuration: capDur})

	// Taken before the pair that arms the timer, so elapsed can only
	// overestimate the recording window.
	entered := time.Now()
	rig.coord.Start()
	rig.coord.HandleFrame(videoFrame(media.SourceFront, 0))
	rig.coord.HandleFrame(videoFrame(media.SourceBack, 0))
	rig.drainQueue(t)
	rig.waitState(t, StateRecording)

	// The cap timer must finish the recording with no explicit Stop, no
	// sooner than the cap and without arbitrary delay past it.
	rig.waitState(t, StateIdle)
	elapsed := time.Since(entered)
	if elapsed < capDur {
		t.Errorf("forced stop after %v, want >= %v", elapsed, capDur)
	}
	if elapsed > capDur+time.Second {
		t.Errorf("forced stop after %v, want close to %v", elapsed, capDur)
	}
	if got := rig.sink.saveCount(); got != 1 {
		t.Fatalf("sink calls = %d, want 1", got)
	}
}

func TestRecordAndSave(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{Album: "Duets"})

	rig.coord.Start()
	for i := 0; i < 5; i++ {
		pts := int64(i) * 33_333
		rig.coord.HandleFrame(videoFrame(media.SourceFront, pts))
		rig.coord.HandleFrame(videoFrame(media.SourceBack, pts))
		rig.coord.HandleFrame(audioFrame(pts))
	}
	rig.drainQueue(t)
	rig.waitState(t, StateRecording)

	rig.coord.Stop()
	rig.waitState(t, StateIdle)

	if got := rig.writer.VideoSampleCount(); got != 5 {
		t.Errorf("video samples = %d, want 5", got)
	}
	if !rig.writer.closed {
		t.Error("writer was not closed")
	}
	if got := rig.sink.saveCount(); got != 1 {
		t.Fatalf("sink calls = %d, want 1", got)
	}
	if got := rig.sink.albums[0]; got != "Duets" {
		t.Errorf("album = %q, want %q", got, "Duets")
	}
	if !rig.video.closedOnce {
		t.Error("video encoder was not flushed")
	}
}

func TestAudioDroppedBeforeWriterReady(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})

	rig.coord.Start()
	rig.coord.HandleFrame(audioFrame(0))
	rig.coord.HandleFrame(audioFrame(1000))
	rig.drainQueue(t)

	if got := rig.writer.AudioSampleCount(); got != 0 {
		t.Fatalf("audio samples before writer ready = %d, want 0", got)
	}

	// After the first video pair the writer accepts audio.
	rig.coord.HandleFrame(videoFrame(media.SourceFront, 2000))
	rig.coord.HandleFrame(videoFrame(media.SourceBack, 2000))
	rig.coord.HandleFrame(audioFrame(3000))
	rig.drainQueue(t)
	if got := rig.writer.AudioSampleCount(); got != 1 {
		t.Fatalf("audio samples after writer ready = %d, want 1", got)
	}
}

func TestSaveFailureEntersErrorState(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})
	rig.sink.err = context.DeadlineExceeded

	rig.coord.Start()
	rig.coord.HandleFrame(videoFrame(media.SourceFront, 0))
	rig.coord.HandleFrame(videoFrame(media.SourceBack, 0))
	rig.drainQueue(t)
	rig.waitState(t, StateRecording)

	rig.coord.Stop()
	rig.waitState(t, StateError)

	// Error is terminal until the next Start, which must succeed.
	rig.sink.err = nil
	rig.coord.Start()
	rig.waitState(t, StateStarting)
}

func TestStartIgnoredWhileActive(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{})

	rig.coord.Start()
	rig.drainQueue(t)
	first := rig.coord.sess
	if first == nil {
		t.Fatal("no session after start")
	}

	rig.coord.Start()
	rig.drainQueue(t)
	if rig.coord.sess != first {
		t.Error("second start replaced the active session")
	}
}
