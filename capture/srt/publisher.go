package srt

import (
	"context"
	"fmt"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/duet/media"
)

// dialTimeout bounds how long Dial waits for the remote listener.
const dialTimeout = 5 * time.Second

type dialResult struct {
	conn *srtgo.Conn
	err  error
}

// drainDial collects an abandoned dial result in the background and closes
// any connection it produced, so a dial that completes after the caller gave
// up does not leak.
func drainDial(ch <-chan dialResult) {
	go func() {
		if res := <-ch; res.conn != nil {
			res.conn.Close()
		}
	}()
}

// Publisher is the device side of the SRT capture link: it dials a Listener
// and pushes raw frame records for one role.
type Publisher struct {
	conn *srtgo.Conn
	role string
}

// Dial connects to an SRT listener and announces the given role via the
// stream ID. The dial is bounded by dialTimeout and the context.
func Dial(ctx context.Context, addr, role string) (*Publisher, error) {
	if extractRole(role) == "" {
		return nil, fmt.Errorf("unknown device role %q", role)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = "live/" + role

	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial %s: %w", addr, res.err)
		}
		return &Publisher{conn: res.conn, role: role}, nil
	case <-timer.C:
		drainDial(ch)
		return nil, fmt.Errorf("SRT dial %s: timeout after %s", addr, dialTimeout)
	case <-ctx.Done():
		drainDial(ch)
		return nil, ctx.Err()
	}
}

// SendVideo pushes one raw video frame.
func (p *Publisher) SendVideo(buf *media.PixelBuffer, pts int64) error {
	return WriteVideo(p.conn, buf, pts)
}

// SendAudio pushes one PCM chunk.
func (p *Publisher) SendAudio(pcm []byte, pts int64) error {
	return WriteAudio(p.conn, pcm, pts)
}

// Close closes the SRT connection.
func (p *Publisher) Close() error {
	p.conn.Close()
	return nil
}
