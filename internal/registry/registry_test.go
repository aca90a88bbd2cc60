package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kanivox/kanivox/internal/catalog"
	"github.com/kanivox/kanivox/internal/engine"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type countingEngine struct {
	loads   int
	fail    error
	devices []string
}

type nopHandle struct{}

func (nopHandle) Synthesize(context.Context, string, string, engine.Params) ([]int16, error) {
	return make([]int16, 8), nil
}

func (nopHandle) Close() error { return nil }

func (e *countingEngine) Load(_ context.Context, _ string, opts engine.Options) (engine.Handle, error) {
	e.loads++
	e.devices = append(e.devices, opts.Device)
	if e.fail != nil {
		return nil, e.fail
	}
	return nopHandle{}, nil
}

func seedModel(t *testing.T, cat *catalog.Catalog, key string) {
	t.Helper()
	desc, ok := cat.Lookup(key)
	if !ok {
		t.Fatalf("unknown model %q", key)
	}
	if err := os.MkdirAll(desc.LocalPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(desc.LocalPath, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func TestLoadUnknownModel(t *testing.T) {
	cat := catalog.New(t.TempDir())
	reg := New(cat, &countingEngine{}, 22050, newLogger())

	err := reg.Load(context.Background(), "fr")
	var unknown *ErrUnknownModel
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestLoadNotDownloaded(t *testing.T) {
	cat := catalog.New(t.TempDir())
	eng := &countingEngine{}
	reg := New(cat, eng, 22050, newLogger())

	err := reg.Load(context.Background(), "en")
	var notDownloaded *NotDownloadedError
	if !errors.As(err, &notDownloaded) {
		t.Fatalf("expected NotDownloadedError, got %v", err)
	}
	if eng.loads != 0 {
		t.Fatalf("engine invoked for missing artifacts")
	}
}

func TestLoadIdempotent(t *testing.T) {
	cat := catalog.New(t.TempDir())
	eng := &countingEngine{}
	reg := New(cat, eng, 22050, newLogger())
	seedModel(t, cat, "en")

	if err := reg.Load(context.Background(), "en"); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if err := reg.Load(context.Background(), "en"); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if eng.loads != 1 {
		t.Fatalf("expected exactly one construction, got %d", eng.loads)
	}
	if got := reg.LoadedModels(); len(got) != 1 || got[0] != "en" {
		t.Fatalf("expected single resident handle, got %v", got)
	}
}

func TestLoadUsesCPUDevice(t *testing.T) {
	cat := catalog.New(t.TempDir())
	eng := &countingEngine{}
	reg := New(cat, eng, 22050, newLogger())
	seedModel(t, cat, "en")

	if err := reg.Load(context.Background(), "en"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(eng.devices) != 1 || eng.devices[0] != "cpu" {
		t.Fatalf("expected cpu device, got %v", eng.devices)
	}
}

func TestLoadWrapsConstructionFault(t *testing.T) {
	cat := catalog.New(t.TempDir())
	boom := errors.New("weights corrupt")
	reg := New(cat, &countingEngine{fail: boom}, 22050, newLogger())
	seedModel(t, cat, "en")

	err := reg.Load(context.Background(), "en")
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause")
	}
	if reg.IsLoaded("en") {
		t.Fatal("failed load must not leave a handle")
	}
}

func TestUnload(t *testing.T) {
	cat := catalog.New(t.TempDir())
	reg := New(cat, &countingEngine{}, 22050, newLogger())
	seedModel(t, cat, "en")

	if reg.Unload("en") {
		t.Fatal("unload of non-resident model must return false")
	}
	if err := reg.Load(context.Background(), "en"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reg.Unload("en") {
		t.Fatal("expected unload to release handle")
	}
	if reg.IsLoaded("en") {
		t.Fatal("handle still resident after unload")
	}
	if reg.Unload("en") {
		t.Fatal("second unload must be a no-op")
	}
}

func TestDownloadedPredicate(t *testing.T) {
	cat := catalog.New(t.TempDir())
	reg := New(cat, &countingEngine{}, 22050, newLogger())

	if reg.Downloaded("en") {
		t.Fatal("missing dir reported downloaded")
	}
	desc, _ := cat.Lookup("en")
	if err := os.MkdirAll(desc.LocalPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if reg.Downloaded("en") {
		t.Fatal("empty dir reported downloaded")
	}
	if err := os.WriteFile(filepath.Join(desc.LocalPath, "model.safetensors"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if !reg.Downloaded("en") {
		t.Fatal("artifact dir not recognized")
	}
	if reg.Downloaded("fr") {
		t.Fatal("unknown key reported downloaded")
	}
}

func TestKeyLockPerKey(t *testing.T) {
	cat := catalog.New(t.TempDir())
	reg := New(cat, &countingEngine{}, 22050, newLogger())

	if reg.KeyLock("en") != reg.KeyLock("en") {
		t.Fatal("same key must share one lock")
	}
	if reg.KeyLock("en") == reg.KeyLock("de") {
		t.Fatal("distinct keys must not share a lock")
	}
}
