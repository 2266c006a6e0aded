// Package feed fetches the video feed and its owners' profiles from the
// read-only REST backend. Profiles are cached in memory with in-flight
// request deduplication, so a page of videos by the same owner costs one
// upstream fetch.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrNotFound = errors.New("resource not found")
	ErrUpstream = errors.New("upstream request failed")
)

// VideoRecord is one entry of the video feed.
type VideoRecord struct {
	ID        string `json:"id"`
	MediaURL  string `json:"media_url"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	LikeCount int    `json:"like_count"`
	OwnerID   string `json:"owner_id"`
}

// Profile is the public profile of a video owner.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Handle    string `json:"handle"`
	AvatarURL string `json:"avatar_url"`
	Bio       string `json:"bio"`
}

// ProfileProvider returns the profile for one owner identifier.
type ProfileProvider interface {
	Profile(ctx context.Context, ownerID string) (*Profile, error)
}

// Client talks to the feed backend over plain request/response HTTP.
type Client struct {
	base string
	http *http.Client
	log  *slog.Logger
}

// NewClient creates a feed client for the backend at baseURL.
func NewClient(baseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log.With("component", "feed-client"),
	}
}

// Videos fetches the feed, newest first. limit caps the result set; zero
// means the server's default.
func (c *Client) Videos(ctx context.Context, limit int) ([]VideoRecord, error) {
	u := c.base + "/videos"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var records []VideoRecord
	if err := c.getJSON(ctx, u, &records); err != nil {
		return nil, fmt.Errorf("fetch videos: %w", err)
	}
	return records, nil
}

// Profile fetches one owner's profile.
func (c *Client) Profile(ctx context.Context, ownerID string) (*Profile, error) {
	var p Profile
	u := c.base + "/profiles/" + url.PathEscape(ownerID)
	if err := c.getJSON(ctx, u, &p); err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", ownerID, err)
	}
	return &p, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
