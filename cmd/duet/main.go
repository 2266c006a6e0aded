package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/duet/api"
	"github.com/zsiec/duet/capture"
	srtcap "github.com/zsiec/duet/capture/srt"
	"github.com/zsiec/duet/capture/synth"
	"github.com/zsiec/duet/certs"
	"github.com/zsiec/duet/encode"
	"github.com/zsiec/duet/feed"
	"github.com/zsiec/duet/preview"
	"github.com/zsiec/duet/record"
	"github.com/zsiec/duet/storage"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	srtAddr := envOr("SRT_ADDR", ":6000")
	apiAddr := envOr("API_ADDR", ":8080")
	captureMode := envOr("CAPTURE", "srt")
	album := envOr("ALBUM", "Duet")
	feedURL := envOr("FEED_URL", "http://localhost:9000")

	slog.Info("duet starting",
		"version", version,
		"capture", captureMode,
		"srt", srtAddr,
		"api", apiAddr,
		"album", album,
	)

	library, err := storage.NewLibrary(os.Getenv("LIBRARY_ROOT"), nil)
	if err != nil {
		slog.Error("failed to open media library", "error", err)
		os.Exit(1)
	}
	slog.Info("media library ready", "root", library.Root())

	coord := record.New(record.Config{
		Album:       album,
		MaxDuration: envDuration("MAX_RECORD", 15*time.Second),
		FrameRate:   envInt("FRAME_RATE", 30),
		SampleRate:  envInt("SAMPLE_RATE", 44100),
	}, library,
		func(path string, sampleRate, fps int) (record.ClipWriter, error) {
			return record.NewFMP4Writer(path, sampleRate, fps)
		},
		func() (encode.Video, encode.Audio) {
			v := encode.NewFFmpegVideo(nil)
			v.TargetWidth = envInt("TARGET_WIDTH", 720)
			v.TargetHeight = envInt("TARGET_HEIGHT", 1280)
			return v, encode.NewFFmpegAudio(nil)
		},
		nil,
	)

	var listener *srtcap.Listener
	var deck capture.Deck
	switch captureMode {
	case "srt":
		listener = srtcap.NewListener(srtAddr, nil)
		deck = capture.Deck{
			Front: listener.Camera(srtcap.RoleFront),
			Back:  listener.Camera(srtcap.RoleBack),
			Mic:   listener.Mic(srtcap.RoleMic),
		}
	case "synth":
		deck = capture.Deck{
			Front: synth.NewCamera("synth-front", 720, 640, envInt("FRAME_RATE", 30)),
			Back:  synth.NewCamera("synth-back", 720, 640, envInt("FRAME_RATE", 30)),
			Mic:   synth.NewMic(envInt("SAMPLE_RATE", 44100), 20*time.Millisecond),
		}
	default:
		slog.Error("unknown capture mode", "mode", captureMode)
		os.Exit(1)
	}

	session := capture.NewSession(deck, nil)
	session.SetOutput(coord.HandleFrame)

	front, back, err := session.Configure(ctx)
	if err != nil {
		slog.Error("capture configuration failed", "error", err)
		os.Exit(1)
	}
	if err := session.Start(); err != nil {
		slog.Error("capture start failed", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	previewSrv := preview.NewServer(nil)
	previewSrv.Register("front", front)
	previewSrv.Register("back", back)

	feedClient := feed.NewClient(feedURL, nil)
	profiles := feed.NewProfileCache(feedClient, nil)

	apiSrv := api.NewServer(api.ServerConfig{
		Recorder: coord,
		Albums:   library,
		Videos:   feedClient,
		Profiles: profiles,
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiSrv.Handler())
	mux.HandleFunc("GET /preview/front", previewSrv.Handler("front"))
	mux.HandleFunc("GET /preview/back", previewSrv.Handler("back"))

	httpSrv := &http.Server{
		Addr:    apiAddr,
		Handler: mux,
	}
	useTLS := os.Getenv("TLS") != ""
	if useTLS {
		cert, err := certs.Generate(14 * 24 * time.Hour)
		if err != nil {
			slog.Error("failed to generate certificate", "error", err)
			os.Exit(1)
		}
		slog.Info("serving TLS with self-signed certificate",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
		httpSrv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert.TLSCert},
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return coord.Run(ctx)
	})

	if listener != nil {
		g.Go(func() error {
			return listener.Start(ctx)
		})
	}

	g.Go(func() error {
		slog.Info("API server listening", "addr", apiAddr, "tls", useTLS)
		var err error
		if useTLS {
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		session.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	// Surface recorder transitions in the process log; the REST layer polls
	// state separately.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-coord.Events():
				if ev.Kind == record.EventState {
					slog.Info("recorder", "state", ev.State, "message", ev.Message)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
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
		slog.Warn("ignoring invalid value", "key", key, "value", v)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		slog.Warn("ignoring invalid value", "key", key, "value", v)
	}
	return fallback
}
