package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/duet/media"
)

// Session owns the three capture devices and the serial session queue that
// delivers their samples downstream. All sample delivery happens on one
// goroutine, so per-frame work done inside the output callback is naturally
// serialized against itself and applies backpressure to delivery.
type Session struct {
	log  *slog.Logger
	deck Deck
	out  func(*media.CaptureFrame)

	mu         sync.Mutex
	configured bool
	running    bool
	cancelAll  context.CancelFunc
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}

	frontCh <-chan VideoSample
	backCh  <-chan VideoSample
	audioCh <-chan AudioSample

	front *Surface
	back  *Surface
}

// NewSession creates an unconfigured session over the given deck. If log is
// nil, slog.Default() is used.
func NewSession(deck Deck, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:  log.With("component", "capture-session"),
		deck: deck,
	}
}

// SetOutput installs the sample callback. The callback runs on the session
// queue; it must not be changed after Start.
func (s *Session) SetOutput(out func(*media.CaptureFrame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = out
}

// Configure opens all three devices and returns the two live preview
// surfaces. Failure of any device closes the devices opened earlier in the
// same attempt and leaves the session unconfigured; a second Configure on an
// already configured session is an error.
func (s *Session) Configure(ctx context.Context) (front, back *Surface, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configured {
		return nil, nil, ErrAlreadyConfigured
	}
	if s.deck.Front == nil {
		return nil, nil, fmt.Errorf("%w: front camera", ErrMissingDevice)
	}
	if s.deck.Back == nil {
		return nil, nil, fmt.Errorf("%w: back camera", ErrMissingDevice)
	}
	if s.deck.Mic == nil {
		return nil, nil, fmt.Errorf("%w: microphone", ErrMissingDevice)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	devCtx, cancel := context.WithCancel(context.Background())

	frontCh, err := s.deck.Front.Open(devCtx)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open front camera %q: %w", s.deck.Front.Name(), err)
	}
	backCh, err := s.deck.Back.Open(devCtx)
	if err != nil {
		s.deck.Front.Close()
		cancel()
		return nil, nil, fmt.Errorf("open back camera %q: %w", s.deck.Back.Name(), err)
	}
	audioCh, err := s.deck.Mic.Open(devCtx)
	if err != nil {
		s.deck.Front.Close()
		s.deck.Back.Close()
		cancel()
		return nil, nil, fmt.Errorf("open microphone %q: %w", s.deck.Mic.Name(), err)
	}

	s.cancelAll = cancel
	s.frontCh, s.backCh, s.audioCh = frontCh, backCh, audioCh
	s.front = newSurface(s.deck.Front.Name())
	s.back = newSurface(s.deck.Back.Name())
	s.configured = true

	s.log.Info("session configured",
		"front", s.deck.Front.Name(),
		"back", s.deck.Back.Name(),
		"mic", s.deck.Mic.Name(),
	)
	return s.front, s.back, nil
}

// Start launches the session queue. Idempotent: starting a running session
// is a no-op. Returns an error if the session is unconfigured or no output
// callback is set.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return ErrNotConfigured
	}
	if s.out == nil {
		return ErrNoOutput
	}
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel
	s.pumpDone = make(chan struct{})
	s.running = true

	go s.pump(ctx, s.out, s.pumpDone)
	s.log.Info("session started")
	return nil
}

// Stop halts sample delivery. Idempotent: stopping an idle session is a
// no-op. Devices stay open; Start may be called again.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.pumpCancel, s.pumpDone
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("session stopped")
}

// Close stops delivery and releases all devices. The session cannot be
// reused afterwards.
func (s *Session) Close() {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return
	}
	s.configured = false
	s.cancelAll()
	s.deck.Front.Close()
	s.deck.Back.Close()
	s.deck.Mic.Close()
	s.log.Info("session closed")
}

// pump is the session queue. It multiplexes the three device channels onto
// the single output callback. Delivery order across sources is whatever the
// select picks; only per-source FIFO is guaranteed.
func (s *Session) pump(ctx context.Context, out func(*media.CaptureFrame), done chan struct{}) {
	defer close(done)

	frontCh, backCh, audioCh := s.frontCh, s.backCh, s.audioCh

	for {
		if frontCh == nil && backCh == nil && audioCh == nil {
			s.log.Info("all device channels closed")
			return
		}

		select {
		case <-ctx.Done():
			return

		case sample, ok := <-frontCh:
			if !ok {
				frontCh = nil
				continue
			}
			s.front.publish(sample.Pixels)
			out(&media.CaptureFrame{Source: media.SourceFront, Pixels: sample.Pixels, PTS: sample.PTS})

		case sample, ok := <-backCh:
			if !ok {
				backCh = nil
				continue
			}
			s.back.publish(sample.Pixels)
			out(&media.CaptureFrame{Source: media.SourceBack, Pixels: sample.Pixels, PTS: sample.PTS})

		case sample, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			out(&media.CaptureFrame{Source: media.SourceAudio, PCM: sample.PCM, PTS: sample.PTS})
		}
	}
}
