package download

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/kanivox/kanivox/internal/bus"
	"github.com/kanivox/kanivox/internal/catalog"
	"github.com/kanivox/kanivox/internal/hub"
	"github.com/kanivox/kanivox/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Download states. Completed and StatusError are terminal; every stream
// ends with exactly one terminal snapshot and a closed channel.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusError       = "error"
)

// User-facing messages for the known hub fault categories.
const (
	msgAuthRequired = "This model requires authentication. Please log in to the hub."
	msgRepoNotFound = "Model repository not found."
)

// Snapshot is one point-in-time report of a download, pushed to consumers
// and serialized as-is onto the progress stream.
type Snapshot struct {
	ModelKey        string  `json:"model_key"`
	ModelName       string  `json:"model_name"`
	TotalSize       int64   `json:"total_size"`
	DownloadedSize  int64   `json:"downloaded_size"`
	ProgressPercent float64 `json:"progress_percent"`
	CurrentFile     string  `json:"current_file"`
	Status          string  `json:"status"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	FilesTotal      int     `json:"files_total"`
	FilesDownloaded int     `json:"files_downloaded"`
}

// Terminal reports whether the snapshot ends its stream.
func (s Snapshot) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusError
}

// ArtifactChecker answers whether a model's artifacts are already on disk.
// The registry satisfies this.
type ArtifactChecker interface {
	Downloaded(key string) bool
}

// Tracker drives one background transfer per Start call and reports its
// progress as a stream of snapshots.
type Tracker struct {
	cat       *catalog.Catalog
	fetcher   hub.Fetcher
	artifacts ArtifactChecker
	interval  time.Duration
	events    *bus.Client
	log       *slog.Logger
	outcomes  metric.Int64Counter
}

func New(cat *catalog.Catalog, fetcher hub.Fetcher, artifacts ArtifactChecker, interval time.Duration, events *bus.Client, log *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	outcomes, _ := otel.Meter("github.com/kanivox/kanivox/download").Int64Counter(
		"kanivox_downloads_total",
		metric.WithDescription("Model downloads by terminal outcome"))
	return &Tracker{
		cat:       cat,
		fetcher:   fetcher,
		artifacts: artifacts,
		interval:  interval,
		events:    events,
		log:       log.With(slog.String("component", "download-tracker")),
		outcomes:  outcomes,
	}
}

// Start begins (or short-circuits) a download for key and returns the
// snapshot stream. The transfer runs to completion or terminal failure even
// if the consumer stops reading: snapshots are sent best-effort into a
// bounded channel and dropped when nobody drains it. The channel is always
// closed after the terminal snapshot.
func (t *Tracker) Start(ctx context.Context, key string) <-chan Snapshot {
	out := make(chan Snapshot, 32)
	go t.run(ctx, key, out)
	return out
}

func (t *Tracker) run(ctx context.Context, key string, out chan<- Snapshot) {
	defer close(out)

	desc, ok := t.cat.Lookup(key)
	if !ok {
		emit(out, Snapshot{ModelKey: key, Status: StatusError, ErrorMessage: "Unknown model"})
		return
	}

	snap := Snapshot{ModelKey: key, ModelName: desc.Name, Status: StatusPending}

	// Already on disk: one completed snapshot, no transfer.
	if t.artifacts.Downloaded(key) {
		snap.Status = StatusCompleted
		snap.TotalSize = 1
		snap.DownloadedSize = 1
		snap.ProgressPercent = percent(1, 1)
		emit(out, snap)
		return
	}

	emit(out, snap)
	snap.Status = StatusDownloading
	emit(out, snap)

	info, err := t.fetcher.RepoInfo(ctx, desc.RepoID)
	if err != nil {
		t.fail(out, snap, desc, err)
		return
	}
	snap.FilesTotal = len(info.Siblings)
	snap.TotalSize = info.TotalSize()
	emit(out, snap)

	t.log.Info("download started",
		slog.String("model", key),
		slog.Int64("total_size", snap.TotalSize),
		slog.Int("files", snap.FilesTotal))

	done := make(chan error, 1)
	go func() {
		done <- t.fetcher.Snapshot(ctx, desc.RepoID, desc.LocalPath)
	}()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				t.fail(out, snap, desc, err)
				return
			}
			snap.Status = StatusCompleted
			snap.DownloadedSize = snap.TotalSize
			snap.FilesDownloaded = snap.FilesTotal
			snap.ProgressPercent = percent(snap.DownloadedSize, snap.TotalSize)
			emit(out, snap)
			t.log.Info("download completed", slog.String("model", key))
			t.outcomes.Add(ctx, 1, metric.WithAttributes(
				attribute.String("model", key),
				attribute.String("outcome", "completed")))
			t.announce(protocol.SubjectDownloadDone, key, "")
			return
		case <-ticker.C:
			snap.DownloadedSize = dirSize(desc.LocalPath)
			snap.FilesDownloaded = fileCount(desc.LocalPath)
			snap.ProgressPercent = percent(snap.DownloadedSize, snap.TotalSize)
			emit(out, snap)
		}
	}
}

func (t *Tracker) fail(out chan<- Snapshot, snap Snapshot, desc catalog.Model, err error) {
	snap.Status = StatusError
	switch {
	case errors.Is(err, hub.ErrAuthRequired):
		snap.ErrorMessage = msgAuthRequired
	case errors.Is(err, hub.ErrRepoNotFound):
		snap.ErrorMessage = msgRepoNotFound
	default:
		snap.ErrorMessage = err.Error()
	}
	emit(out, snap)
	t.log.Warn("download failed",
		slog.String("model", desc.Key),
		slog.String("error", err.Error()))
	t.outcomes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("model", desc.Key),
		attribute.String("outcome", "error")))
	t.announce(protocol.SubjectDownloadFailed, desc.Key, snap.ErrorMessage)
}

func (t *Tracker) announce(subject, key, message string) {
	evt := protocol.DownloadEvent{ModelKey: key, Error: message, Timestamp: time.Now().UTC()}
	if err := t.events.PublishJSON(subject, evt); err != nil {
		t.log.Warn("failed to publish download event", slog.String("error", err.Error()))
	}
}

// emit never blocks: a consumer that stopped reading must not stall the
// transfer. Dropped snapshots are acceptable, the next sample supersedes
// them.
func emit(out chan<- Snapshot, snap Snapshot) {
	select {
	case out <- snap:
	default:
	}
}

func percent(downloaded, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(downloaded) / float64(total) * 100
	return math.Round(math.Min(100, p)*10) / 10
}

// dirSize sums file sizes under path. Transient read failures count as
// zero so a racing transfer never crashes progress reporting.
func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func fileCount(path string) int {
	count := 0
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			count++
		}
		return nil
	})
	return count
}
