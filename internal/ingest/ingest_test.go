package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	titles []string
	mimes  []string
}

func (f *fakeSubmitter) Submit(_ context.Context, title string, _ []byte, mime string) (*entity.Essay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	f.mimes = append(f.mimes, mime)
	if strings.HasPrefix(title, "bad") {
		return nil, errors.New("extraction failed")
	}
	return &entity.Essay{ID: uuid.New(), Title: title, Status: constants.StatusExtracted}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.png", "bad.JPG", "notes.txt", ".hidden/c.png", "sub/d.webp"} {
		writeFile(t, filepath.Join(root, name))
	}

	sub := &fakeSubmitter{}
	results, stats, err := New(sub, quietLogger()).IngestDirectory(context.Background(), root, true)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	want := DirStats{Scanned: 7, Matched: 3, Succeeded: 2, Failed: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	for _, r := range results {
		failed := r.Err != ""
		if failed != strings.Contains(r.Path, "bad") {
			t.Errorf("result %+v", r)
		}
		if !failed && (r.EssayID == uuid.Nil || r.Status != constants.StatusExtracted) {
			t.Errorf("result %+v", r)
		}
	}
	if got := strings.Join(sub.titles, ","); got != "a,bad,d" {
		t.Errorf("titles = %s", got)
	}
	if got := strings.Join(sub.mimes, ","); got != "image/png,image/jpeg,image/webp" {
		t.Errorf("mimes = %s", got)
	}
}

func TestIngestDirectoryRequiresRoot(t *testing.T) {
	if _, _, err := New(&fakeSubmitter{}, nil).IngestDirectory(context.Background(), " ", false); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestTitleFromPath(t *testing.T) {
	if got := TitleFromPath("/x/Redação 1.png"); got != "Redação 1" {
		t.Errorf("title = %q", got)
	}
	long := strings.Repeat("é", 250) + ".png"
	if got := TitleFromPath(long); len([]rune(got)) != maxTitleRunes {
		t.Errorf("long title has %d runes", len([]rune(got)))
	}
}

func TestWatcherEmitsExistingAndNewImages(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old.png"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond}, quietLogger())
	if err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}

	next := func() string {
		t.Helper()
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for watcher event")
			return ""
		}
	}
	if got := next(); filepath.Base(got) != "old.png" {
		t.Fatalf("first event = %s", got)
	}

	writeFile(t, filepath.Join(root, "ignored.txt"))
	writeFile(t, filepath.Join(root, "new.jpg"))
	if got := next(); filepath.Base(got) != "new.jpg" {
		t.Fatalf("second event = %s", got)
	}

	cancel()
	for range events {
	}
}
