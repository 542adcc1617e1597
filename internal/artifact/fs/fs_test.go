package fs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MrWong99/castforge/internal/artifact"
	"github.com/MrWong99/castforge/internal/artifact/fs"
)

func mustNew(t *testing.T) *fs.Store {
	t.Helper()
	s, err := fs.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPutGetRoundtrip(t *testing.T) {
	t.Parallel()

	s := mustNew(t)
	ctx := context.Background()
	key := artifact.SegmentKey("fs-task-1", 3)

	url, err := s.PutBytes(ctx, key, []byte("mp3-bytes"), artifact.ContentTypeMP3)
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if !filepath.IsAbs(url) {
		t.Errorf("PutBytes url = %q, want absolute path", url)
	}

	data, err := s.GetBytes(ctx, key)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if string(data) != "mp3-bytes" {
		t.Errorf("GetBytes = %q", data)
	}

	// The returned URL must also be accepted as a key.
	data, err = s.GetBytes(ctx, url)
	if err != nil {
		t.Fatalf("GetBytes by url: %v", err)
	}
	if string(data) != "mp3-bytes" {
		t.Errorf("GetBytes by url = %q", data)
	}
}

func TestPutLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	s := mustNew(t)
	ctx := context.Background()
	key := artifact.OutlineKey("fs-task-2")

	if _, err := s.PutText(ctx, key, `{"title":"Ep"}`, artifact.ContentTypeJSON); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Dir(filepath.Join(s.Root(), filepath.FromSlash(key)))
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "podcast_outline.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("directory contents = %v, want only podcast_outline.json", names)
	}
}

func TestTraversalRejected(t *testing.T) {
	t.Parallel()

	s := mustNew(t)
	ctx := context.Background()

	for _, key := range []string{"../escape.txt", "a/../../escape.txt", "..", "/etc/passwd"} {
		if _, err := s.PutBytes(ctx, key, []byte("x"), ""); err == nil {
			t.Errorf("PutBytes(%q) accepted a key outside the root", key)
		}
		if _, err := s.GetBytes(ctx, key); err == nil || errors.Is(err, artifact.ErrNotFound) {
			t.Errorf("GetBytes(%q) did not reject the key (err = %v)", key, err)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	s := mustNew(t)
	_, err := s.GetText(context.Background(), artifact.TranscriptKey("fs-task-missing"))
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("GetText error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	s := mustNew(t)
	ctx := context.Background()
	key := artifact.SegmentKey("fs-task-3", 1)

	if _, err := s.PutBytes(ctx, key, []byte("x"), artifact.ContentTypeMP3); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetBytes(ctx, key); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("GetBytes after delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, key); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}

	// Deleting a task's last object must prune its empty directories.
	if _, err := os.Stat(filepath.Join(s.Root(), "podcasts", "fs-task-3")); !os.IsNotExist(err) {
		t.Errorf("task directory survived deletion (stat err = %v)", err)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	s := mustNew(t)
	ctx := context.Background()

	put := func(key string) {
		t.Helper()
		if _, err := s.PutBytes(ctx, key, []byte("x"), ""); err != nil {
			t.Fatal(err)
		}
	}
	put(artifact.SegmentKey("fs-task-4", 1))
	put(artifact.SegmentKey("fs-task-4", 2))
	put(artifact.OutlineKey("fs-task-4"))
	put(artifact.SegmentKey("fs-task-other", 1))

	keys, err := s.List(ctx, artifact.AudioPrefix("fs-task-4"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	slices.Sort(keys)
	want := []string{
		"podcasts/fs-task-4/audio/turn_001.mp3",
		"podcasts/fs-task-4/audio/turn_002.mp3",
	}
	if !slices.Equal(keys, want) {
		t.Errorf("List = %v, want %v", keys, want)
	}

	keys, err = s.List(ctx, "text/fs-task-4/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "text/fs-task-4/podcast_outline.json" {
		t.Errorf("List text prefix = %v", keys)
	}

	keys, err = s.List(ctx, "podcasts/fs-task-nope/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("List of empty prefix = %v, want none", keys)
	}
}
