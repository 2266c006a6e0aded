// Package storage persists finished recordings into a local media library
// organized as named albums. An album is a directory under the library
// root; an item is an immutable copy of a recording file with a generated
// name, so callers may delete their staging file after Save returns.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
)

// Save failure classes. Callers branch on these to decide whether the
// failure is actionable (permissions) or structural.
var (
	ErrPermissionDenied = errors.New("library access denied")
	ErrAlbumCreate      = errors.New("could not create album")
	ErrInsert           = errors.New("could not insert item")
	ErrNoAlbum          = errors.New("album does not exist")
)

// Item is one stored recording.
type Item struct {
	Name     string    `json:"name"`
	Album    string    `json:"album"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	SavedAt  time.Time `json:"saved_at"`
	Duration float64   `json:"duration,omitempty"`
}

// Library is a filesystem-backed media library. The zero value is not
// usable; construct with NewLibrary.
type Library struct {
	root string
	log  *slog.Logger
}

// NewLibrary opens the library rooted at root, creating it if missing.
// An empty root places the library under the user's videos directory.
func NewLibrary(root string, log *slog.Logger) (*Library, error) {
	if log == nil {
		log = slog.Default()
	}
	if root == "" {
		root = filepath.Join(xdg.UserDirs.Videos, "Duet")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, classify(ErrAlbumCreate, "create library root", err)
	}
	return &Library{
		root: root,
		log:  log.With("component", "library", "root", root),
	}, nil
}

// Root returns the library's root directory.
func (l *Library) Root() string { return l.root }

// Save copies the recording at filePath into album under a fresh item
// name. The album is created on first use. Save runs as two steps, ensure
// album then insert item; a failure between them leaves an empty album
// behind, which later saves reuse.
func (l *Library) Save(ctx context.Context, filePath, album string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := l.ensureAlbum(album)
	if err != nil {
		return err
	}

	name := uuid.NewString() + filepath.Ext(filePath)
	dst := filepath.Join(dir, name)
	if err := copyFile(filePath, dst); err != nil {
		return classify(ErrInsert, "insert item", err)
	}

	l.log.Info("recording saved", "album", album, "item", name)
	return nil
}

// List returns the items of album, newest first.
func (l *Library) List(album string) ([]Item, error) {
	dir, err := l.albumDir(album)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoAlbum, album)
		}
		return nil, classify(ErrInsert, "read album", err)
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, Item{
			Name:    e.Name(),
			Album:   album,
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			SavedAt: info.ModTime(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].SavedAt.After(items[j].SavedAt)
	})
	return items, nil
}

// Albums returns the album names present in the library.
func (l *Library) Albums() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, classify(ErrInsert, "read library", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (l *Library) ensureAlbum(album string) (string, error) {
	dir, err := l.albumDir(album)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", classify(ErrAlbumCreate, "create album", err)
	}
	return dir, nil
}

// albumDir validates the album name and resolves its directory. Names must
// stay inside the library root.
func (l *Library) albumDir(album string) (string, error) {
	if album == "" || strings.ContainsAny(album, `/\`) || album == "." || album == ".." {
		return "", fmt.Errorf("%w: invalid album name %q", ErrAlbumCreate, album)
	}
	return filepath.Join(l.root, album), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// classify wraps err with its failure class, preferring the permission
// class when the OS reports an access error.
func classify(kind error, op string, err error) error {
	if os.IsPermission(err) {
		kind = ErrPermissionDenied
	}
	return fmt.Errorf("%w: %s: %v", kind, op, err)
}
