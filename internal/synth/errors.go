package synth

import "fmt"

// ValidationError reports caller input that can never succeed unchanged:
// empty text or an unknown model key.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// GenerationError wraps a per-chunk synthesis fault. The whole request is
// aborted; no partial audio ever reaches the caller.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("failed to generate audio: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
