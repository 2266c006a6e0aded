// Package api exposes the app's REST surface: recorder control, the video
// feed joined with owner profiles, and the local album library.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zsiec/duet/feed"
	"github.com/zsiec/duet/record"
	"github.com/zsiec/duet/storage"
)

// feedLimit caps one feed page.
const feedLimit = 50

// Recorder is the control surface of the recording coordinator.
type Recorder interface {
	Start()
	Stop()
	State() record.State
}

// Albums is the read side of the media library.
type Albums interface {
	Albums() ([]string, error)
	List(album string) ([]storage.Item, error)
}

// VideoLister fetches the remote video feed.
type VideoLister interface {
	Videos(ctx context.Context, limit int) ([]feed.VideoRecord, error)
}

// FeedEntry is one feed video joined with its owner's profile. Owner is
// nil when the profile could not be resolved.
type FeedEntry struct {
	feed.VideoRecord
	Owner *feed.Profile `json:"owner,omitempty"`
}

// ServerConfig wires the API server's collaborators.
type ServerConfig struct {
	Recorder Recorder
	Albums   Albums
	Videos   VideoLister
	Profiles feed.ProfileProvider
}

// Server serves the JSON API.
type Server struct {
	log    *slog.Logger
	config ServerConfig
}

// NewServer creates an API server. If log is nil, slog.Default() is used.
func NewServer(config ServerConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:    log.With("component", "api"),
		config: config,
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/recorder", s.handleRecorderState)
	mux.HandleFunc("POST /api/recorder/start", s.handleRecorderStart)
	mux.HandleFunc("POST /api/recorder/stop", s.handleRecorderStop)
	mux.HandleFunc("GET /api/feed", s.handleFeed)
	mux.HandleFunc("GET /api/albums", s.handleAlbums)
	mux.HandleFunc("GET /api/albums/{name}/items", s.handleAlbumItems)
}

// Handler returns the http.Handler for the REST API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleRecorderState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"state": s.config.Recorder.State().String(),
	})
}

func (s *Server) handleRecorderStart(w http.ResponseWriter, _ *http.Request) {
	s.config.Recorder.Start()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) handleRecorderStop(w http.ResponseWriter, _ *http.Request) {
	s.config.Recorder.Stop()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit := feedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	videos, err := s.config.Videos.Videos(r.Context(), limit)
	if err != nil {
		s.log.Error("feed fetch failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "feed unavailable")
		return
	}

	entries := make([]FeedEntry, 0, len(videos))
	for _, v := range videos {
		entry := FeedEntry{VideoRecord: v}
		// A missing profile degrades the entry, never the page.
		p, err := s.config.Profiles.Profile(r.Context(), v.OwnerID)
		if err != nil {
			s.log.Warn("profile lookup failed", "owner", v.OwnerID, "error", err)
		} else {
			entry.Owner = p
		}
		entries = append(entries, entry)
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAlbums(w http.ResponseWriter, _ *http.Request) {
	albums, err := s.config.Albums.Albums()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if albums == nil {
		albums = make([]string, 0)
	}
	s.writeJSON(w, http.StatusOK, albums)
}

func (s *Server) handleAlbumItems(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	items, err := s.config.Albums.List(name)
	if err != nil {
		if errors.Is(err, storage.ErrNoAlbum) {
			s.writeError(w, http.StatusNotFound, "album not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}
