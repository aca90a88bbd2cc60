package engine

import "context"

type mockEngine struct {
	sampleRate int
}

type mockHandle struct {
	sampleRate int
}

// NewMockEngine returns an engine whose handles emit a short burst of
// silence per chunk. Used in tests and for wiring checks without a model
// runtime installed.
func NewMockEngine(sampleRate int) Engine {
	return &mockEngine{sampleRate: sampleRate}
}

func (m *mockEngine) Load(_ context.Context, _ string, opts Options) (Handle, error) {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = m.sampleRate
	}
	return &mockHandle{sampleRate: rate}, nil
}

func (h *mockHandle) Synthesize(ctx context.Context, text, _ string, _ Params) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 20ms of silence per character, so longer text yields longer audio.
	n := h.sampleRate / 50 * max(len(text), 1)
	return make([]int16, n), nil
}

func (h *mockHandle) Close() error { return nil }
