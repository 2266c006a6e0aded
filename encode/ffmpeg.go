package encode

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/zsiec/duet/media"
)

// ffmpegBin is the encoder binary resolved from PATH at Start.
const ffmpegBin = "ffmpeg"

// readChunkSize is the stdout read buffer for both encoder processes.
const readChunkSize = 64 * 1024

// FFmpegVideo pipes packed BGRA frames through an ffmpeg libx264 process and
// splits its Annex B output into access units. The encoder runs with
// zerolatency tuning and explicit access unit delimiters so output can be
// framed as it streams.
type FFmpegVideo struct {
	log *slog.Logger

	// TargetWidth/TargetHeight, when set, rescale the encoded output to a
	// fixed resolution regardless of the input frame geometry.
	TargetWidth  int
	TargetHeight int

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	splitter AUSplitter
	pending  []AccessUnit
	ptsQueue []int64
	lastPTS  int64
	readErr  error
	started  bool
	closed   bool

	readDone chan struct{}

	width  int
	height int
}

// NewFFmpegVideo creates an unstarted video encoder. If log is nil,
// slog.Default() is used.
func NewFFmpegVideo(log *slog.Logger) *FFmpegVideo {
	if log == nil {
		log = slog.Default()
	}
	return &FFmpegVideo{log: log.With("component", "video-encoder")}
}

// Start launches the encoder process for the given frame geometry.
func (e *FFmpegVideo) Start(width, height, fps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	if e.closed {
		return ErrClosed
	}

	bin, err := exec.LookPath(ffmpegBin)
	if err != nil {
		return fmt.Errorf("video encoder binary: %w", err)
	}

	cmd := exec.Command(bin, e.buildArgs(width, height, fps)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("video encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("video encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start video encoder: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.width, e.height = width, height
	e.started = true
	e.readDone = make(chan struct{})

	go e.readLoop(stdout)

	e.log.Debug("video encoder started", "size", fmt.Sprintf("%dx%d", width, height), "fps", fps)
	return nil
}

// buildArgs assembles the encoder command line: raw BGRA frames in, an
// optional rescale to the fixed target resolution, AUD-delimited Annex B out.
func (e *FFmpegVideo) buildArgs(width, height, fps int) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", "pipe:0",
	}
	if e.TargetWidth > 0 && e.TargetHeight > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", e.TargetWidth, e.TargetHeight))
	}
	return append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-x264-params", "aud=1:keyint=30:scenecut=0",
		"-f", "h264",
		"pipe:1",
	)
}

// readLoop seals off stdout parsing: completed access units are queued under
// the mutex with a PTS popped from the submission queue.
func (e *FFmpegVideo) readLoop(stdout io.Reader) {
	defer close(e.readDone)

	buf := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			e.mu.Lock()
			for _, au := range e.splitter.Push(buf[:n]) {
				e.pending = append(e.pending, e.tagAU(au))
			}
			e.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				e.mu.Lock()
				e.readErr = err
				e.mu.Unlock()
			}
			return
		}
	}
}

// tagAU attaches the next submitted PTS to an access unit. Caller holds mu.
func (e *FFmpegVideo) tagAU(au []byte) AccessUnit {
	pts := e.lastPTS
	if len(e.ptsQueue) > 0 {
		pts = e.ptsQueue[0]
		e.ptsQueue = e.ptsQueue[1:]
		e.lastPTS = pts
	}
	return AccessUnit{Data: au, Key: IsKeyframeAU(au), PTS: pts}
}

// Encode submits one canonical frame and returns any access units the
// process has completed so far. Output lags input by the encoder's internal
// delay; pair Encode with a final Close to collect the tail.
func (e *FFmpegVideo) Encode(buf *media.PixelBuffer, pts int64) ([]AccessUnit, error) {
	if buf.Format != media.FormatBGRA {
		return nil, ErrNotCanonical
	}

	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if err := e.readErr; err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("video encoder output: %w", err)
	}
	e.ptsQueue = append(e.ptsQueue, pts)
	stdin := e.stdin
	e.mu.Unlock()

	rowBytes := buf.Width * 4
	for y := 0; y < buf.Height; y++ {
		if _, err := stdin.Write(buf.Data[y*buf.Stride : y*buf.Stride+rowBytes]); err != nil {
			return nil, fmt.Errorf("write frame to encoder: %w", err)
		}
	}

	return e.drain(), nil
}

// drain returns and clears all pending access units.
func (e *FFmpegVideo) drain() []AccessUnit {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pending
	e.pending = nil
	return out
}

// Close flushes the encoder and returns the remaining access units.
func (e *FFmpegVideo) Close() ([]AccessUnit, error) {
	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return nil, nil
	}
	e.closed = true
	stdin := e.stdin
	e.mu.Unlock()

	stdin.Close()
	<-e.readDone

	e.mu.Lock()
	if tail := e.splitter.Flush(); tail != nil {
		e.pending = append(e.pending, e.tagAU(tail))
	}
	out := e.pending
	e.pending = nil
	err := e.readErr
	e.mu.Unlock()

	if werr := e.cmd.Wait(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return out, fmt.Errorf("video encoder close: %w", err)
	}
	return out, nil
}

// FFmpegAudio pipes s16le mono PCM through an ffmpeg AAC process, returning
// complete ADTS frames as they stream out.
type FFmpegAudio struct {
	log *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	splitter ADTSSplitter
	pending  [][]byte
	readErr  error
	started  bool
	closed   bool

	readDone chan struct{}
}

// NewFFmpegAudio creates an unstarted audio encoder. If log is nil,
// slog.Default() is used.
func NewFFmpegAudio(log *slog.Logger) *FFmpegAudio {
	if log == nil {
		log = slog.Default()
	}
	return &FFmpegAudio{log: log.With("component", "audio-encoder")}
}

// Start launches the encoder process for the given input sample rate.
func (e *FFmpegAudio) Start(sampleRate int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	if e.closed {
		return ErrClosed
	}

	bin, err := exec.LookPath(ffmpegBin)
	if err != nil {
		return fmt.Errorf("audio encoder binary: %w", err)
	}

	cmd := exec.Command(bin,
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", "96k",
		"-f", "adts",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("audio encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("audio encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start audio encoder: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.started = true
	e.readDone = make(chan struct{})

	go e.readLoop(stdout)

	e.log.Debug("audio encoder started", "sample_rate", sampleRate)
	return nil
}

func (e *FFmpegAudio) readLoop(stdout io.Reader) {
	defer close(e.readDone)

	buf := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending = append(e.pending, e.splitter.Push(buf[:n])...)
			e.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				e.mu.Lock()
				e.readErr = err
				e.mu.Unlock()
			}
			return
		}
	}
}

// Encode submits PCM bytes and returns any completed ADTS frames.
func (e *FFmpegAudio) Encode(pcm []byte) ([][]byte, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if err := e.readErr; err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("audio encoder output: %w", err)
	}
	stdin := e.stdin
	e.mu.Unlock()

	if _, err := stdin.Write(pcm); err != nil {
		return nil, fmt.Errorf("write pcm to encoder: %w", err)
	}

	e.mu.Lock()
	out := e.pending
	e.pending = nil
	e.mu.Unlock()
	return out, nil
}

// Close flushes the encoder and returns the remaining ADTS frames.
func (e *FFmpegAudio) Close() ([][]byte, error) {
	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return nil, nil
	}
	e.closed = true
	stdin := e.stdin
	e.mu.Unlock()

	stdin.Close()
	<-e.readDone

	e.mu.Lock()
	out := e.pending
	e.pending = nil
	err := e.readErr
	e.mu.Unlock()

	if werr := e.cmd.Wait(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return out, fmt.Errorf("audio encoder close: %w", err)
	}
	return out, nil
}
