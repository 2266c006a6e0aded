// Package synth provides synthetic capture devices: a moving color-bar
// camera and a sine-tone microphone. They stand in for real sensors in
// demos and tests, producing the same sample shapes over the same channels.
package synth

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/zsiec/duet/capture"
	"github.com/zsiec/duet/media"
)

// barColors are the SMPTE-style bar colors cycled across the frame, as
// (R, G, B) triples.
var barColors = [][3]byte{
	{235, 235, 235}, // white
	{235, 235, 16},  // yellow
	{16, 235, 235},  // cyan
	{16, 235, 16},   // green
	{235, 16, 235},  // magenta
	{235, 16, 16},   // red
	{16, 16, 235},   // blue
}

// Camera is a synthetic video device emitting NV12 color bars that scroll
// one bar width per second, so consecutive frames are distinguishable.
type Camera struct {
	name   string
	width  int
	height int
	fps    int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCamera creates a synthetic camera producing width x height NV12 frames
// at the given rate. Dimensions must be even (NV12 chroma subsampling).
func NewCamera(name string, width, height, fps int) *Camera {
	return &Camera{name: name, width: width, height: height, fps: fps}
}

// Name returns the device name.
func (c *Camera) Name() string { return c.name }

// Open starts frame production. Frames are dropped, not queued, when the
// consumer falls behind the channel buffer.
func (c *Camera) Open(ctx context.Context) (<-chan capture.VideoSample, error) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	ch := make(chan capture.VideoSample, media.VideoBufferSize)
	go c.run(ctx, ch)
	return ch, nil
}

// Close stops frame production and closes the sample channel.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Camera) run(ctx context.Context, ch chan<- capture.VideoSample) {
	defer close(ch)

	interval := time.Second / time.Duration(c.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	frameN := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pts := time.Since(start).Microseconds()
		sample := capture.VideoSample{Pixels: c.renderBars(frameN), PTS: pts}
		frameN++

		select {
		case ch <- sample:
		default: // consumer behind, drop
		}
	}
}

// renderBars draws vertical color bars shifted by frameN, in NV12 with a
// deliberately padded luma stride to mimic sensor row alignment.
func (c *Camera) renderBars(frameN int) *media.PixelBuffer {
	stride := (c.width + 63) &^ 63 // 64-byte aligned rows
	barW := c.width / len(barColors)
	if barW == 0 {
		barW = 1
	}
	shift := (frameN / c.fps) * barW

	data := make([]byte, stride*c.height+stride*c.height/2)
	luma := data[:stride*c.height]
	chroma := data[stride*c.height:]

	for x := 0; x < c.width; x++ {
		rgb := barColors[((x+shift)/barW)%len(barColors)]
		y, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
		for row := 0; row < c.height; row++ {
			luma[row*stride+x] = y
		}
		if x%2 == 0 {
			for row := 0; row < c.height/2; row++ {
				chroma[row*stride+x] = u
				chroma[row*stride+x+1] = v
			}
		}
	}

	return &media.PixelBuffer{
		Width:  c.width,
		Height: c.height,
		Stride: stride,
		Format: media.FormatNV12,
		Data:   data,
	}
}

// rgbToYUV converts one RGB pixel to BT.601 full-range YUV.
func rgbToYUV(r, g, b byte) (y, u, v byte) {
	rf, gf, bf := int(r), int(g), int(b)
	yv := (19595*rf + 38470*gf + 7471*bf) >> 16
	uv := ((-11056*rf - 21712*gf + 32768*bf) >> 16) + 128
	vv := ((32768*rf - 27440*gf - 5328*bf) >> 16) + 128
	return clamp(yv), clamp(uv), clamp(vv)
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// Mic is a synthetic audio device emitting a continuous sine tone as s16le
// mono PCM in fixed-duration chunks.
type Mic struct {
	sampleRate int
	freq       float64
	chunk      time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewMic creates a tone microphone. A 440 Hz tone at the given sample rate
// is produced in chunks of the given duration.
func NewMic(sampleRate int, chunk time.Duration) *Mic {
	return &Mic{sampleRate: sampleRate, freq: 440, chunk: chunk}
}

// Name returns the device name.
func (m *Mic) Name() string { return "synth-mic" }

// Open starts tone production.
func (m *Mic) Open(ctx context.Context) (<-chan capture.AudioSample, error) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	ch := make(chan capture.AudioSample, media.AudioBufferSize)
	go m.run(ctx, ch)
	return ch, nil
}

// Close stops tone production and closes the sample channel.
func (m *Mic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

func (m *Mic) run(ctx context.Context, ch chan<- capture.AudioSample) {
	defer close(ch)

	ticker := time.NewTicker(m.chunk)
	defer ticker.Stop()

	start := time.Now()
	samplesPerChunk := int(float64(m.sampleRate) * m.chunk.Seconds())
	phase := 0.0
	step := 2 * math.Pi * m.freq / float64(m.sampleRate)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pcm := make([]byte, samplesPerChunk*2)
		for i := 0; i < samplesPerChunk; i++ {
			v := int16(math.Sin(phase) * 0.3 * math.MaxInt16)
			pcm[i*2] = byte(v)
			pcm[i*2+1] = byte(v >> 8)
			phase += step
		}

		sample := capture.AudioSample{PCM: pcm, PTS: time.Since(start).Microseconds()}
		select {
		case ch <- sample:
		default:
		}
	}
}
