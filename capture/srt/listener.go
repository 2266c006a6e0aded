package srt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/duet/capture"
	"github.com/zsiec/duet/media"
)

// Device roles carried in the SRT stream ID.
const (
	RoleFront = "front"
	RoleBack  = "back"
	RoleMic   = "mic"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Listener accepts SRT publish connections and routes decoded records to the
// remote device matching the publisher's role. One publisher per role; a
// second publisher for an occupied role is rejected at accept time.
type Listener struct {
	log  *slog.Logger
	addr string

	mu      sync.Mutex
	cameras map[string]*RemoteCamera
	mics    map[string]*RemoteMic
	active  map[string]bool
}

// NewListener creates a listener on addr. If log is nil, slog.Default() is used.
func NewListener(addr string, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		log:     log.With("component", "srt-listener"),
		addr:    addr,
		cameras: make(map[string]*RemoteCamera),
		mics:    make(map[string]*RemoteMic),
		active:  make(map[string]bool),
	}
}

// Camera returns the remote camera device for the given role, creating it on
// first use. The device is usable immediately; frames arrive once a
// publisher connects with that role.
func (l *Listener) Camera(role string) *RemoteCamera {
	l.mu.Lock()
	defer l.mu.Unlock()
	cam, ok := l.cameras[role]
	if !ok {
		cam = &RemoteCamera{
			role: role,
			ch:   make(chan capture.VideoSample, media.VideoBufferSize),
		}
		l.cameras[role] = cam
	}
	return cam
}

// Mic returns the remote microphone device for the given role.
func (l *Listener) Mic(role string) *RemoteMic {
	l.mu.Lock()
	defer l.mu.Unlock()
	mic, ok := l.mics[role]
	if !ok {
		mic = &RemoteMic{
			role: role,
			ch:   make(chan capture.AudioSample, media.AudioBufferSize),
		}
		l.mics[role] = mic
	}
	return mic
}

// Start begins accepting publish connections. It blocks until the context is
// cancelled.
func (l *Listener) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	ln, err := srtgo.Listen(l.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", l.addr, err)
	}
	l.log.Info("listening", "addr", l.addr)

	ln.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		role := extractRole(req.StreamID)
		if role == "" {
			return srtgo.RejPeer
		}
		// Claim here, not in the accept loop: two handshakes for one role
		// must not both pass the check before either is admitted.
		if !l.claimRole(role) {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("accept error", "error", err)
			continue
		}

		role := extractRole(conn.StreamID())
		l.log.Info("publisher connected", "role", role, "remote", conn.RemoteAddr())

		go l.handleConnection(ctx, conn, role)
	}
}

func (l *Listener) handleConnection(ctx context.Context, conn *srtgo.Conn, role string) {
	defer conn.Close()
	defer l.releaseRole(role)

	r := bufio.NewReaderSize(conn, 1<<20)
	records := 0
	for ctx.Err() == nil {
		rec, err := ReadRecord(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.log.Debug("record read error", "role", role, "error", err)
			}
			break
		}
		records++
		l.dispatch(role, rec)
	}
	l.log.Info("publisher disconnected", "role", role, "records", records)
}

// claimRole marks role as occupied by a publisher. It reports false when the
// role is already held, so exactly one of any concurrent claimants wins.
func (l *Listener) claimRole(role string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[role] {
		return false
	}
	l.active[role] = true
	return true
}

// releaseRole frees a claimed role when its publisher disconnects.
func (l *Listener) releaseRole(role string) {
	l.mu.Lock()
	delete(l.active, role)
	l.mu.Unlock()
}

// dispatch routes one record to the device registered for role, dropping it
// when the device channel is full or the record kind does not fit the role.
func (l *Listener) dispatch(role string, rec *Record) {
	l.mu.Lock()
	cam := l.cameras[role]
	mic := l.mics[role]
	l.mu.Unlock()

	switch {
	case rec.Pixels != nil && cam != nil:
		cam.push(capture.VideoSample{Pixels: rec.Pixels, PTS: rec.PTS})
	case rec.PCM != nil && mic != nil:
		mic.push(capture.AudioSample{PCM: rec.PCM, PTS: rec.PTS})
	}
}

// extractRole parses the device role from an SRT stream ID, accepting the
// bare role or a publish-style "live/<role>" path.
func extractRole(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	switch streamID {
	case RoleFront, RoleBack, RoleMic:
		return streamID
	}
	return ""
}

// RemoteCamera is a capture.VideoDevice fed by a remote SRT publisher.
type RemoteCamera struct {
	role string
	ch   chan capture.VideoSample

	mu     sync.Mutex
	opened bool
}

// Name returns the role this camera is bound to.
func (c *RemoteCamera) Name() string { return "srt-" + c.role }

// Open returns the sample channel. Frames arrive once a publisher connects.
func (c *RemoteCamera) Open(ctx context.Context) (<-chan capture.VideoSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = true
	return c.ch, nil
}

// Close detaches the device. The listener keeps draining the publisher.
func (c *RemoteCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	return nil
}

func (c *RemoteCamera) push(s capture.VideoSample) {
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()
	if !opened {
		return
	}
	select {
	case c.ch <- s:
	default: // consumer behind, drop
	}
}

// RemoteMic is a capture.AudioDevice fed by a remote SRT publisher.
type RemoteMic struct {
	role string
	ch   chan capture.AudioSample

	mu     sync.Mutex
	opened bool
}

// Name returns the role this microphone is bound to.
func (m *RemoteMic) Name() string { return "srt-" + m.role }

// Open returns the sample channel.
func (m *RemoteMic) Open(ctx context.Context) (<-chan capture.AudioSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return m.ch, nil
}

// Close detaches the device.
func (m *RemoteMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

func (m *RemoteMic) push(s capture.AudioSample) {
	m.mu.Lock()
	opened := m.opened
	m.mu.Unlock()
	if !opened {
		return
	}
	select {
	case m.ch <- s:
	default:
	}
}
