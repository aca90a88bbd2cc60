package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kanivox/kanivox/internal/catalog"
	"github.com/kanivox/kanivox/internal/hub"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticCheck bool

func (s staticCheck) Downloaded(string) bool { return bool(s) }

type fakeFetcher struct {
	info        hub.RepoInfo
	infoErr     error
	snapshotErr error
	files       map[string][]byte
	stepDelay   time.Duration
	finished    chan struct{}
}

func (f *fakeFetcher) RepoInfo(context.Context, string) (hub.RepoInfo, error) {
	if f.infoErr != nil {
		return hub.RepoInfo{}, f.infoErr
	}
	return f.info, nil
}

func (f *fakeFetcher) Snapshot(_ context.Context, _ string, destDir string) error {
	defer close(f.finished)
	if f.snapshotErr != nil {
		return f.snapshotErr
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	for name, data := range f.files {
		if f.stepDelay > 0 {
			time.Sleep(f.stepDelay)
		}
		if err := os.WriteFile(filepath.Join(destDir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func collect(t *testing.T, ch <-chan Snapshot) []Snapshot {
	t.Helper()
	var snaps []Snapshot
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return snaps
			}
			snaps = append(snaps, snap)
		case <-deadline:
			t.Fatal("progress stream never closed")
		}
	}
}

func newTracker(cat *catalog.Catalog, fetcher hub.Fetcher, downloaded bool, interval time.Duration) *Tracker {
	return New(cat, fetcher, staticCheck(downloaded), interval, nil, newLogger())
}

func TestAlreadyDownloadedShortCircuits(t *testing.T) {
	cat := catalog.New(t.TempDir())
	fetcher := &fakeFetcher{finished: make(chan struct{})}
	tracker := newTracker(cat, fetcher, true, time.Millisecond)

	snaps := collect(t, tracker.Start(context.Background(), "en"))
	if len(snaps) != 1 {
		t.Fatalf("expected exactly one snapshot, got %d", len(snaps))
	}
	if snaps[0].Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snaps[0].Status)
	}
	if snaps[0].ProgressPercent != 100 {
		t.Fatalf("expected full progress, got %v", snaps[0].ProgressPercent)
	}
	select {
	case <-fetcher.finished:
		t.Fatal("transfer must not start for a downloaded model")
	default:
	}
}

func TestUnknownModelEmitsErrorSnapshot(t *testing.T) {
	cat := catalog.New(t.TempDir())
	tracker := newTracker(cat, &fakeFetcher{finished: make(chan struct{})}, false, time.Millisecond)

	snaps := collect(t, tracker.Start(context.Background(), "fr"))
	if len(snaps) != 1 || snaps[0].Status != StatusError {
		t.Fatalf("expected single error snapshot, got %v", snaps)
	}
}

func TestSuccessfulDownloadStream(t *testing.T) {
	cat := catalog.New(t.TempDir())
	fetcher := &fakeFetcher{
		info: hub.RepoInfo{Siblings: []hub.RepoFile{
			{Rfilename: "config.json", Size: 10},
			{Rfilename: "model.safetensors", Size: 90},
		}},
		files: map[string][]byte{
			"config.json":       make([]byte, 10),
			"model.safetensors": make([]byte, 90),
		},
		stepDelay: 30 * time.Millisecond,
		finished:  make(chan struct{}),
	}
	tracker := newTracker(cat, fetcher, false, 10*time.Millisecond)

	snaps := collect(t, tracker.Start(context.Background(), "en"))
	if len(snaps) < 4 {
		t.Fatalf("expected pending, downloading, samples and terminal; got %d snapshots", len(snaps))
	}
	if snaps[0].Status != StatusPending {
		t.Fatalf("first snapshot must be pending, got %s", snaps[0].Status)
	}
	if snaps[1].Status != StatusDownloading {
		t.Fatalf("second snapshot must be downloading, got %s", snaps[1].Status)
	}

	last := snaps[len(snaps)-1]
	if last.Status != StatusCompleted {
		t.Fatalf("expected completed terminal, got %s", last.Status)
	}
	if last.DownloadedSize != last.TotalSize || last.TotalSize != 100 {
		t.Fatalf("terminal snapshot not forced to total: %+v", last)
	}
	if last.FilesDownloaded != 2 || last.FilesTotal != 2 {
		t.Fatalf("file counts wrong: %+v", last)
	}

	terminals := 0
	prev := float64(0)
	for _, snap := range snaps {
		if snap.Terminal() {
			terminals++
		}
		if snap.ProgressPercent < 0 || snap.ProgressPercent > 100 {
			t.Fatalf("percent out of range: %v", snap.ProgressPercent)
		}
		if snap.Status == StatusDownloading {
			if snap.ProgressPercent < prev {
				t.Fatalf("progress regressed: %v < %v", snap.ProgressPercent, prev)
			}
			prev = snap.ProgressPercent
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal snapshot, got %d", terminals)
	}
}

func TestAuthRequiredMapsToMessage(t *testing.T) {
	cat := catalog.New(t.TempDir())
	fetcher := &fakeFetcher{
		infoErr:  fmt.Errorf("%w: nineninesix/kani-tts-400m-en", hub.ErrAuthRequired),
		finished: make(chan struct{}),
	}
	tracker := newTracker(cat, fetcher, false, time.Millisecond)

	snaps := collect(t, tracker.Start(context.Background(), "en"))
	last := snaps[len(snaps)-1]
	if last.Status != StatusError {
		t.Fatalf("expected error terminal, got %s", last.Status)
	}
	if last.ErrorMessage != msgAuthRequired {
		t.Fatalf("unexpected message: %q", last.ErrorMessage)
	}
}

func TestRepoNotFoundMapsToMessage(t *testing.T) {
	cat := catalog.New(t.TempDir())
	fetcher := &fakeFetcher{
		infoErr:  fmt.Errorf("%w: nineninesix/kani-tts-400m-en", hub.ErrRepoNotFound),
		finished: make(chan struct{}),
	}
	tracker := newTracker(cat, fetcher, false, time.Millisecond)

	snaps := collect(t, tracker.Start(context.Background(), "en"))
	last := snaps[len(snaps)-1]
	if last.Status != StatusError || last.ErrorMessage != msgRepoNotFound {
		t.Fatalf("unexpected terminal: %+v", last)
	}
}

func TestGenericFaultKeepsErrorText(t *testing.T) {
	cat := catalog.New(t.TempDir())
	fetcher := &fakeFetcher{
		snapshotErr: fmt.Errorf("disk full"),
		finished:    make(chan struct{}),
	}
	tracker := newTracker(cat, fetcher, false, time.Millisecond)

	snaps := collect(t, tracker.Start(context.Background(), "en"))
	last := snaps[len(snaps)-1]
	if last.Status != StatusError || last.ErrorMessage != "disk full" {
		t.Fatalf("unexpected terminal: %+v", last)
	}
}

// A consumer that never reads must not stall the transfer; this is the
// run-to-completion policy, not a leak.
func TestTransferRunsWithoutConsumer(t *testing.T) {
	cat := catalog.New(t.TempDir())
	fetcher := &fakeFetcher{
		info:     hub.RepoInfo{Siblings: []hub.RepoFile{{Rfilename: "config.json", Size: 2}}},
		files:    map[string][]byte{"config.json": []byte("{}")},
		finished: make(chan struct{}),
	}
	tracker := newTracker(cat, fetcher, false, time.Millisecond)

	_ = tracker.Start(context.Background(), "en") // nobody reads

	select {
	case <-fetcher.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not run to completion without a consumer")
	}
}
