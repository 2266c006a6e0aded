package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := NewLibrary(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	return lib
}

func stageFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("stage file: %v", err)
	}
	return path
}

func TestSaveThenList(t *testing.T) {
	t.Parallel()
	lib := newTestLibrary(t)

	src := stageFile(t, "fragmented mp4 bytes")
	if err := lib.Save(context.Background(), src, "Duets"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	items, err := lib.List("Duets")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Album != "Duets" {
		t.Errorf("album = %q, want %q", items[0].Album, "Duets")
	}
	if filepath.Ext(items[0].Name) != ".mp4" {
		t.Errorf("item name %q lost its extension", items[0].Name)
	}
	got, err := os.ReadFile(items[0].Path)
	if err != nil {
		t.Fatalf("read stored item: %v", err)
	}
	if string(got) != "fragmented mp4 bytes" {
		t.Errorf("stored content = %q, want original bytes", got)
	}
}

func TestSaveCreatesAlbumOnce(t *testing.T) {
	t.Parallel()
	lib := newTestLibrary(t)

	for i := 0; i < 3; i++ {
		if err := lib.Save(context.Background(), stageFile(t, "x"), "Duets"); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	albums, err := lib.Albums()
	if err != nil {
		t.Fatalf("Albums: %v", err)
	}
	if len(albums) != 1 || albums[0] != "Duets" {
		t.Fatalf("albums = %v, want [Duets]", albums)
	}
	items, err := lib.List("Duets")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("items = %d, want 3", len(items))
	}
}

func TestListMissingAlbum(t *testing.T) {
	t.Parallel()
	lib := newTestLibrary(t)

	if _, err := lib.List("nope"); !errors.Is(err, ErrNoAlbum) {
		t.Errorf("List missing album = %v, want ErrNoAlbum", err)
	}
}

func TestInvalidAlbumName(t *testing.T) {
	t.Parallel()
	lib := newTestLibrary(t)

	for _, album := range []string{"", "..", "a/b", `a\b`} {
		err := lib.Save(context.Background(), stageFile(t, "x"), album)
		if !errors.Is(err, ErrAlbumCreate) {
			t.Errorf("Save album %q = %v, want ErrAlbumCreate", album, err)
		}
	}
}

func TestSaveMissingSource(t *testing.T) {
	t.Parallel()
	lib := newTestLibrary(t)

	err := lib.Save(context.Background(), filepath.Join(t.TempDir(), "absent.mp4"), "Duets")
	if !errors.Is(err, ErrInsert) {
		t.Errorf("Save missing source = %v, want ErrInsert", err)
	}
}

func TestSavePermissionDenied(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("permission bits not enforced")
	}

	root := t.TempDir()
	lib, err := NewLibrary(root, nil)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	if err := os.Chmod(root, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(root, 0o755) })

	err = lib.Save(context.Background(), stageFile(t, "x"), "Duets")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Save into read-only root = %v, want ErrPermissionDenied", err)
	}
}

func TestSaveCancelledContext(t *testing.T) {
	t.Parallel()
	lib := newTestLibrary(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := lib.Save(ctx, stageFile(t, "x"), "Duets"); !errors.Is(err, context.Canceled) {
		t.Errorf("Save with cancelled context = %v, want context.Canceled", err)
	}
}
