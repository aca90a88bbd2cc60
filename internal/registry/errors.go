package registry

import "fmt"

// ErrUnknownModel reports a key absent from the model catalog.
type ErrUnknownModel struct {
	Key string
}

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("unknown model: %s", e.Key)
}

// NotDownloadedError reports that a model's artifacts are not on disk.
// The caller must trigger a download before loading.
type NotDownloadedError struct {
	Key string
}

func (e *NotDownloadedError) Error() string {
	return fmt.Sprintf("model %s is not downloaded", e.Key)
}

// LoadError wraps a model construction fault.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
