package engine

import "context"

// Params are the per-request sampling knobs forwarded to the model runtime.
type Params struct {
	Temperature float64
	TopP        float64
}

// Options select how a model is constructed.
type Options struct {
	// Device is the compute backend handed to the runtime. The registry
	// always passes "cpu" for this model family; see registry.Load.
	Device     string
	SampleRate int
}

// Handle is an in-memory model instance. A handle is not safe for
// concurrent use; callers serialize through the registry's per-key lock.
type Handle interface {
	// Synthesize renders one text chunk into 16-bit PCM samples.
	Synthesize(ctx context.Context, text, speaker string, params Params) ([]int16, error)
	Close() error
}

// Engine constructs model handles from on-disk artifacts.
type Engine interface {
	Load(ctx context.Context, modelPath string, opts Options) (Handle, error)
}
