package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kanivox/kanivox/internal/catalog"
	"github.com/kanivox/kanivox/internal/config"
	"github.com/kanivox/kanivox/internal/download"
	"github.com/kanivox/kanivox/internal/outputs"
	"github.com/kanivox/kanivox/internal/registry"
	"github.com/kanivox/kanivox/internal/synth"
)

const defaultModelKey = "en"

// Server maps the HTTP surface onto the model registry, the download
// tracker and the synthesis orchestrator. Routing and validation only; all
// real behavior lives behind it.
type Server struct {
	cfg     config.SynthesisConfig
	cat     *catalog.Catalog
	reg     *registry.Registry
	tracker *download.Tracker
	orch    *synth.Orchestrator
	out     *outputs.Store
	log     *slog.Logger
}

func NewServer(
	cfg config.SynthesisConfig,
	cat *catalog.Catalog,
	reg *registry.Registry,
	tracker *download.Tracker,
	orch *synth.Orchestrator,
	out *outputs.Store,
	log *slog.Logger,
) *Server {
	return &Server{
		cfg:     cfg,
		cat:     cat,
		reg:     reg,
		tracker: tracker,
		orch:    orch,
		out:     out,
		log:     log.With(slog.String("component", "httpapi")),
	}
}

// Register mounts all API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("GET /api/models/{key}", s.handleGetModel)
	mux.HandleFunc("GET /api/speakers/{key}", s.handleSpeakers)
	mux.HandleFunc("GET /api/models/{key}/download", s.handleDownload)
	mux.HandleFunc("POST /api/models/{key}/load", s.handleLoad)
	mux.HandleFunc("POST /api/models/{key}/unload", s.handleUnload)
	mux.HandleFunc("POST /api/tts", s.handleTTS)
	mux.HandleFunc("GET /api/audio/{filename}", s.handleGetAudio)
	mux.HandleFunc("DELETE /api/audio/{filename}", s.handleDeleteAudio)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "kanivox"})
}

type modelStatus struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	RepoID     string `json:"repo_id"`
	Downloaded bool   `json:"downloaded"`
	Loaded     bool   `json:"loaded"`
	LocalPath  string `json:"local_path,omitempty"`
}

func (s *Server) modelStatus(key string) (modelStatus, bool) {
	desc, ok := s.cat.Lookup(key)
	if !ok {
		return modelStatus{}, false
	}
	status := modelStatus{
		Key:        desc.Key,
		Name:       desc.Name,
		RepoID:     desc.RepoID,
		Downloaded: s.reg.Downloaded(key),
		Loaded:     s.reg.IsLoaded(key),
	}
	if status.Downloaded {
		status.LocalPath = desc.LocalPath
	}
	return status, true
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	models := make([]modelStatus, 0, len(s.cat.Keys()))
	for _, key := range s.cat.Keys() {
		if status, ok := s.modelStatus(key); ok {
			models = append(models, status)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	status, ok := s.modelStatus(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "Model not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, ok := s.cat.Lookup(key); !ok {
		writeError(w, http.StatusNotFound, "Model not found")
		return
	}
	speakers := s.cat.Speakers(key)
	if speakers == nil {
		speakers = []catalog.Speaker{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"speakers": speakers})
}

// handleDownload streams progress snapshots as server-sent events. A
// disconnecting client stops the stream, not the transfer: the download
// runs to its terminal state regardless.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, ok := s.cat.Lookup(key); !ok {
		writeError(w, http.StatusNotFound, "Model not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// WithoutCancel: closing the SSE stream must not abort the transfer.
	snapshots := s.tracker.Start(context.WithoutCancel(r.Context()), key)
	for snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			s.log.Warn("failed to marshal snapshot", slog.String("error", err.Error()))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client gone. The tracker emits without blocking, so the
			// transfer keeps running unobserved.
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, ok := s.cat.Lookup(key); !ok {
		writeError(w, http.StatusNotFound, "Model not found")
		return
	}
	if !s.reg.Downloaded(key) {
		writeError(w, http.StatusBadRequest, "Model not downloaded")
		return
	}

	lock := s.reg.KeyLock(key)
	lock.Lock()
	err := s.reg.Load(r.Context(), key)
	lock.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": fmt.Sprintf("Model %s loaded", key)})
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, ok := s.cat.Lookup(key); !ok {
		writeError(w, http.StatusNotFound, "Model not found")
		return
	}

	lock := s.reg.KeyLock(key)
	s.log.Info("unload requested", slog.String("model", key))
	lock.Lock()
	s.reg.Unload(key)
	lock.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": fmt.Sprintf("Model %s unloaded", key)})
}

type ttsRequest struct {
	Text        string  `json:"text"`
	Model       string  `json:"model"`
	Speaker     string  `json:"speaker"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type ttsResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	AudioURL string `json:"audio_url"`
	Text     string `json:"text"`
	Model    string `json:"model"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		req.Model = defaultModelKey
	}
	if len(req.Text) == 0 || len(req.Text) > s.cfg.MaxTextChars {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("text must be between 1 and %d characters", s.cfg.MaxTextChars))
		return
	}
	if req.Temperature != 0 && (req.Temperature < 0.1 || req.Temperature > 2.0) {
		writeError(w, http.StatusBadRequest, "temperature must be within [0.1, 2.0]")
		return
	}
	if req.TopP != 0 && (req.TopP < 0.1 || req.TopP > 1.0) {
		writeError(w, http.StatusBadRequest, "top_p must be within [0.1, 1.0]")
		return
	}
	if _, ok := s.cat.Lookup(req.Model); !ok {
		writeError(w, http.StatusBadRequest, "Invalid model")
		return
	}

	result, err := s.orch.Generate(r.Context(), synth.Request{
		Text:        req.Text,
		Model:       req.Model,
		Speaker:     req.Speaker,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		var validation *synth.ValidationError
		var notDownloaded *registry.NotDownloadedError
		switch {
		case errors.As(err, &validation):
			writeError(w, http.StatusBadRequest, validation.Msg)
		case errors.As(err, &notDownloaded):
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Model %s is not downloaded. Please download it first.", req.Model))
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, ttsResponse{
		Success:  true,
		Filename: result.Filename,
		AudioURL: "/api/audio/" + result.Filename,
		Text:     req.Text,
		Model:    req.Model,
	})
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	data, err := s.out.Read(filename)
	if err != nil {
		switch {
		case errors.Is(err, outputs.ErrInvalidName):
			writeError(w, http.StatusBadRequest, "Invalid filename")
		case errors.Is(err, outputs.ErrNotFound):
			writeError(w, http.StatusNotFound, "Audio file not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteAudio(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if err := s.out.Remove(filename); err != nil {
		switch {
		case errors.Is(err, outputs.ErrInvalidName):
			writeError(w, http.StatusBadRequest, "Invalid filename")
		case errors.Is(err, outputs.ErrNotFound):
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "File not found"})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "File deleted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// CORS allows any origin; kanivox is a local development service fronted
// by a browser UI on another port.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
