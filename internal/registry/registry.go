package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kanivox/kanivox/internal/catalog"
	"github.com/kanivox/kanivox/internal/engine"
)

// artifactPatterns are the filenames that mark a model directory as
// populated. Presence is the only check; completeness is not verified.
var artifactPatterns = []string{"*.safetensors", "config.json", "*.bin"}

// Registry tracks which models are resident in memory. At most one handle
// exists per model key. Handles are not reentrant, so all work against a
// key serializes through KeyLock.
type Registry struct {
	cat        *catalog.Catalog
	eng        engine.Engine
	sampleRate int
	log        *slog.Logger

	mu      sync.Mutex
	handles map[string]engine.Handle
	current string
	locks   map[string]*sync.Mutex
}

func New(cat *catalog.Catalog, eng engine.Engine, sampleRate int, log *slog.Logger) *Registry {
	return &Registry{
		cat:        cat,
		eng:        eng,
		sampleRate: sampleRate,
		log:        log.With(slog.String("component", "model-registry")),
		handles:    make(map[string]engine.Handle),
		locks:      make(map[string]*sync.Mutex),
	}
}

// KeyLock returns the mutex serializing load/unload/generate for one model
// key. Distinct keys proceed independently.
func (r *Registry) KeyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// Load makes the model resident. It is idempotent: a resident model is
// marked current and returned without reconstruction. Callers must hold
// KeyLock(key).
func (r *Registry) Load(ctx context.Context, key string) error {
	desc, ok := r.cat.Lookup(key)
	if !ok {
		return &ErrUnknownModel{Key: key}
	}
	if !r.Downloaded(key) {
		return &NotDownloadedError{Key: key}
	}

	r.mu.Lock()
	if _, resident := r.handles[key]; resident {
		r.current = key
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.log.Info("loading model", slog.String("model", key), slog.String("path", desc.LocalPath))

	// Always construct on the CPU backend. The accelerator backend (MPS)
	// miscompiles this model family, so cpu is a correctness workaround
	// rather than a performance default.
	handle, err := r.eng.Load(ctx, desc.LocalPath, engine.Options{
		Device:     "cpu",
		SampleRate: r.sampleRate,
	})
	if err != nil {
		return &LoadError{Key: key, Err: err}
	}

	r.mu.Lock()
	r.handles[key] = handle
	r.current = key
	r.mu.Unlock()

	r.log.Info("model loaded", slog.String("model", key))
	return nil
}

// Unload releases the handle for key. Returns false when the model was not
// resident. Callers must hold KeyLock(key).
func (r *Registry) Unload(key string) bool {
	r.mu.Lock()
	handle, ok := r.handles[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.handles, key)
	if r.current == key {
		r.current = ""
	}
	r.mu.Unlock()

	if err := handle.Close(); err != nil {
		r.log.Warn("model handle close failed", slog.String("model", key), slog.String("error", err.Error()))
	}
	r.log.Info("model unloaded", slog.String("model", key))
	return true
}

// IsLoaded reports whether a handle for key is resident.
func (r *Registry) IsLoaded(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[key]
	return ok
}

// Handle returns the resident handle for key.
func (r *Registry) Handle(key string) (engine.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	return h, ok
}

// LoadedModels returns the keys of all resident models, sorted.
func (r *Registry) LoadedModels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.handles))
	for key := range r.handles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close releases every resident handle. Called on process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]engine.Handle)
	r.current = ""
	r.mu.Unlock()

	for key, handle := range handles {
		if err := handle.Close(); err != nil {
			r.log.Warn("model handle close failed", slog.String("model", key), slog.String("error", err.Error()))
		}
	}
}

// Downloaded reports whether the model's local directory holds at least one
// recognizable artifact file.
func (r *Registry) Downloaded(key string) bool {
	desc, ok := r.cat.Lookup(key)
	if !ok {
		return false
	}
	if _, err := os.Stat(desc.LocalPath); err != nil {
		return false
	}
	for _, pattern := range artifactPatterns {
		matches, err := filepath.Glob(filepath.Join(desc.LocalPath, pattern))
		if err == nil && len(matches) > 0 {
			return true
		}
	}
	return false
}
