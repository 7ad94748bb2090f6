package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/agentchat/backend/internal/model/attachment"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutGetDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	desc := attachment.Descriptor{
		ID:          "file-1",
		Owner:       "alice",
		Filename:    "notes.txt",
		Path:        "alice/20260101/abcd1234_ef567890.txt",
		ContentType: "text/plain",
		Size:        5,
		Backend:     attachment.BackendLocal,
		CreatedAt:   time.Now().UTC(),
	}

	if err := store.Put(ctx, desc, []byte("hello")); err != nil {
		t.Fatalf("Put err: %v", err)
	}

	data, err := store.Get(ctx, desc.Path)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}

	removed, err := store.Delete(ctx, desc.Path)
	if err != nil || !removed {
		t.Fatalf("expected first delete to remove file, got removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete(ctx, desc.Path)
	if err != nil || removed {
		t.Fatalf("expected second delete to report false, got removed=%v err=%v", removed, err)
	}

	if _, err := store.Get(ctx, desc.Path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist after delete, got %v", err)
	}
}

func TestListUsesIndexAndFilesystem(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	older := attachment.Descriptor{
		ID: "a", Owner: "bob", Filename: "report.pdf", Path: "bob/20260101/aaaa_1111.pdf",
		ContentType: "application/pdf", Size: 3, Backend: attachment.BackendLocal,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := attachment.Descriptor{
		ID: "b", Owner: "bob", Filename: "photo.png", Path: "bob/20260102/bbbb_2222.png",
		ContentType: "image/png", Size: 3, Backend: attachment.BackendLocal,
		CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for _, d := range []attachment.Descriptor{older, newer} {
		if err := store.Put(ctx, d, []byte("abc")); err != nil {
			t.Fatalf("Put err: %v", err)
		}
	}

	// A file dropped in without going through Put is still listed.
	stray := filepath.Join(store.root, "bob", "20260103", "manual.txt")
	if err := os.MkdirAll(filepath.Dir(stray), 0o755); err != nil {
		t.Fatalf("mkdir stray: %v", err)
	}
	if err := os.WriteFile(stray, []byte("x"), 0o600); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	// Another owner's files are not visible.
	other := attachment.Descriptor{ID: "c", Owner: "carol", Filename: "c.txt", Path: "carol/20260101/cccc_3333.txt", CreatedAt: time.Now()}
	if err := store.Put(ctx, other, []byte("c")); err != nil {
		t.Fatalf("Put err: %v", err)
	}

	files, err := store.List(ctx, "bob")
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d: %+v", len(files), files)
	}

	byPath := map[string]attachment.Descriptor{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	if byPath[newer.Path].Filename != "photo.png" || byPath[older.Path].ContentType != "application/pdf" {
		t.Fatalf("expected indexed descriptors, got %+v", files)
	}
	if byPath["bob/20260103/manual.txt"].Filename != "manual.txt" || byPath["bob/20260103/manual.txt"].Owner != "bob" {
		t.Fatalf("expected synthesised descriptor for stray file, got %+v", byPath["bob/20260103/manual.txt"])
	}
	if files[len(files)-1].Path != older.Path {
		t.Fatalf("expected oldest file last, got %s", files[len(files)-1].Path)
	}
}

func TestListUnknownOwnerIsEmpty(t *testing.T) {
	store := openTestStore(t)
	files, err := store.List(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %d", len(files))
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"", "../etc/passwd", "/etc/passwd", "a/../../b", ".index.db"} {
		if _, err := store.Get(ctx, p); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("path %q: expected ErrInvalidPath, got %v", p, err)
		}
	}
}
