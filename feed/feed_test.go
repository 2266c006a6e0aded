package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

func TestClientVideos(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Errorf("limit = %q, want %q", got, "2")
		}
		json.NewEncoder(w).Encode([]VideoRecord{
			{ID: "v1", Title: "first", OwnerID: "u1", LikeCount: 3},
			{ID: "v2", Title: "second", OwnerID: "u2"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	videos, err := c.Videos(context.Background(), 2)
	if err != nil {
		t.Fatalf("Videos: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("videos = %d, want 2", len(videos))
	}
	if videos[0].ID != "v1" || videos[0].LikeCount != 3 {
		t.Errorf("first record = %+v", videos[0])
	}
}

func TestClientProfileNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.Profile(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Profile = %v, want ErrNotFound", err)
	}
}

func TestClientUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.Videos(context.Background(), 0); !errors.Is(err, ErrUpstream) {
		t.Errorf("Videos = %v, want ErrUpstream", err)
	}
}

// countingProvider counts upstream hits and can hold all fetchers on a gate
// so concurrency is deterministic.
type countingProvider struct {
	calls atomic.Int64
	gate  chan struct{}
	err   error
}

func (p *countingProvider) Profile(ctx context.Context, ownerID string) (*Profile, error) {
	p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	if p.err != nil {
		return nil, p.err
	}
	return &Profile{ID: ownerID, Name: "User " + ownerID}, nil
}

func TestProfileCacheMemoizes(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{}
	cache := NewProfileCache(provider, nil)

	for i := 0; i < 5; i++ {
		p, err := cache.Profile(context.Background(), "u1")
		if err != nil {
			t.Fatalf("Profile: %v", err)
		}
		if p.ID != "u1" {
			t.Fatalf("profile id = %q, want u1", p.ID)
		}
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	if got := cache.Len(); got != 1 {
		t.Errorf("cached profiles = %d, want 1", got)
	}
}

func TestProfileCacheDedupsInFlight(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{gate: make(chan struct{})}
	cache := NewProfileCache(provider, nil)

	const goroutines = 16
	var wg sync.WaitGroup
	results := make([]*Profile, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := cache.Profile(context.Background(), "u1")
			if err != nil {
				t.Errorf("Profile: %v", err)
				return
			}
			results[i] = p
		}(i)
	}

	// All callers are now either waiting on the flight or about to join it.
	close(provider.gate)
	wg.Wait()

	if got := provider.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	for i, p := range results {
		if p == nil || p.ID != "u1" {
			t.Errorf("result %d = %+v, want profile u1", i, p)
		}
	}
}

func TestProfileCacheDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{err: errors.New("backend down")}
	cache := NewProfileCache(provider, nil)

	if _, err := cache.Profile(context.Background(), "u1"); err == nil {
		t.Fatal("expected error from failing provider")
	}

	provider.err = nil
	p, err := cache.Profile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Profile after recovery: %v", err)
	}
	if p.ID != "u1" {
		t.Errorf("profile id = %q, want u1", p.ID)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestProfileCacheInvalidate(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{}
	cache := NewProfileCache(provider, nil)

	if _, err := cache.Profile(context.Background(), "u1"); err != nil {
		t.Fatalf("Profile: %v", err)
	}
	cache.Invalidate("u1")
	if _, err := cache.Profile(context.Background(), "u1"); err != nil {
		t.Fatalf("Profile after invalidate: %v", err)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}
