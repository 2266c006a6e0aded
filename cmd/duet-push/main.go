// duet-push publishes synthetic camera and microphone frames to a duet
// server over SRT, standing in for the two-camera device during
// development and load testing.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	srtcap "github.com/zsiec/duet/capture/srt"
	"github.com/zsiec/duet/capture/synth"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	addr := envOr("SRT_ADDR", "localhost:6000")
	fps := envInt("FRAME_RATE", 30)
	sampleRate := envInt("SAMPLE_RATE", 44100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	slog.Info("duet-push starting", "addr", addr, "fps", fps)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cam := synth.NewCamera("push-front", 720, 640, fps)
		return pushCamera(ctx, addr, srtcap.RoleFront, cam)
	})
	g.Go(func() error {
		cam := synth.NewCamera("push-back", 720, 640, fps)
		return pushCamera(ctx, addr, srtcap.RoleBack, cam)
	})
	g.Go(func() error {
		mic := synth.NewMic(sampleRate, 20*time.Millisecond)
		return pushMic(ctx, addr, mic)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("publish error", "error", err)
		os.Exit(1)
	}
}

func pushCamera(ctx context.Context, addr, role string, cam *synth.Camera) error {
	pub, err := srtcap.Dial(ctx, addr, role)
	if err != nil {
		return err
	}
	defer pub.Close()

	frames, err := cam.Open(ctx)
	if err != nil {
		return err
	}
	defer cam.Close()

	var sent int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case sample, ok := <-frames:
			if !ok {
				return nil
			}
			if err := pub.SendVideo(sample.Pixels, sample.PTS); err != nil {
				return err
			}
			sent++
			if sent%300 == 0 {
				slog.Debug("frames published", "role", role, "count", sent)
			}
		}
	}
}

func pushMic(ctx context.Context, addr string, mic *synth.Mic) error {
	pub, err := srtcap.Dial(ctx, addr, srtcap.RoleMic)
	if err != nil {
		return err
	}
	defer pub.Close()

	chunks, err := mic.Open(ctx)
	if err != nil {
		return err
	}
	defer mic.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sample, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := pub.SendAudio(sample.PCM, sample.PTS); err != nil {
				return err
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
