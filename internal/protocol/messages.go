package protocol

import "time"

// AudioReady announces a finished synthesis artifact on the bus.
type AudioReady struct {
	Filename   string    `json:"filename"`
	Model      string    `json:"model"`
	Speaker    string    `json:"speaker,omitempty"`
	Chars      int       `json:"chars"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// DownloadEvent announces a terminal download outcome on the bus.
type DownloadEvent struct {
	ModelKey  string    `json:"model_key"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioReady     = "tts.audio.ready"
	SubjectDownloadDone   = "model.download.done"
	SubjectDownloadFailed = "model.download.failed"
)
