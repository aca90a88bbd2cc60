package synth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/kanivox/kanivox/internal/bus"
	"github.com/kanivox/kanivox/internal/catalog"
	"github.com/kanivox/kanivox/internal/chunker"
	"github.com/kanivox/kanivox/internal/config"
	"github.com/kanivox/kanivox/internal/engine"
	"github.com/kanivox/kanivox/internal/history"
	"github.com/kanivox/kanivox/internal/outputs"
	"github.com/kanivox/kanivox/internal/protocol"
	"github.com/kanivox/kanivox/internal/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Request carries one synthesis job.
type Request struct {
	Text        string
	Model       string
	Speaker     string
	Temperature float64
	TopP        float64
}

// Result is the finished artifact alongside its stored filename.
type Result struct {
	Audio    []byte
	Filename string
}

// Orchestrator turns a request into a single stitched WAV artifact. It
// composes the chunker, the registry and the output store; the per-key
// registry lock serializes it against load/unload for the same model.
type Orchestrator struct {
	cfg     config.SynthesisConfig
	cat     *catalog.Catalog
	reg     *registry.Registry
	chunks  *chunker.Chunker
	out     *outputs.Store
	hist    *history.Store
	events  *bus.Client
	log     *slog.Logger
	reqs    metric.Int64Counter
	chunkCt metric.Int64Counter
	latency metric.Float64Histogram
}

func NewOrchestrator(
	cfg config.SynthesisConfig,
	cat *catalog.Catalog,
	reg *registry.Registry,
	out *outputs.Store,
	hist *history.Store,
	events *bus.Client,
	log *slog.Logger,
) *Orchestrator {
	meter := otel.Meter("github.com/kanivox/kanivox/synth")
	reqs, _ := meter.Int64Counter("kanivox_synthesis_requests_total",
		metric.WithDescription("Synthesis requests by model and outcome"))
	chunkCt, _ := meter.Int64Counter("kanivox_synthesis_chunks_total",
		metric.WithDescription("Text chunks synthesized"))
	latency, _ := meter.Float64Histogram("kanivox_synthesis_duration_seconds",
		metric.WithDescription("End-to-end synthesis latency"))

	return &Orchestrator{
		cfg:     cfg,
		cat:     cat,
		reg:     reg,
		chunks:  chunker.New(cfg.ChunkBudgetChars),
		out:     out,
		hist:    hist,
		events:  events,
		log:     log.With(slog.String("component", "synthesis")),
		reqs:    reqs,
		chunkCt: chunkCt,
		latency: latency,
	}
}

// Generate synthesizes req.Text into one WAV artifact and returns its
// bytes and filename. Any chunk fault aborts the request atomically with a
// GenerationError and no file is written.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, &ValidationError{Msg: "text cannot be empty"}
	}
	desc, ok := o.cat.Lookup(req.Model)
	if !ok {
		o.count(req.Model, "invalid")
		return Result{}, &ValidationError{Msg: fmt.Sprintf("unknown model: %s", req.Model)}
	}
	if !o.reg.Downloaded(req.Model) {
		o.count(req.Model, "not_downloaded")
		return Result{}, &registry.NotDownloadedError{Key: req.Model}
	}

	lock := o.reg.KeyLock(req.Model)
	lock.Lock()
	defer lock.Unlock()

	if !o.reg.IsLoaded(req.Model) {
		if err := o.reg.Load(ctx, req.Model); err != nil {
			o.count(req.Model, "load_error")
			return Result{}, err
		}
	}
	handle, ok := o.reg.Handle(req.Model)
	if !ok {
		o.count(req.Model, "load_error")
		return Result{}, &registry.LoadError{Key: req.Model, Err: fmt.Errorf("handle vanished after load")}
	}

	speaker := req.Speaker
	if speaker == "" {
		speaker = o.cat.DefaultSpeaker(req.Model)
	}
	params := engine.Params{
		Temperature: defaultFloat(req.Temperature, o.cfg.Temperature),
		TopP:        defaultFloat(req.TopP, o.cfg.TopP),
	}

	pieces := o.chunks.Split(text)
	o.log.Info("synthesizing",
		slog.String("model", req.Model),
		slog.String("speaker", speaker),
		slog.Int("chunks", len(pieces)))

	rendered := make([][]int16, 0, len(pieces))
	for i, piece := range pieces {
		samples, err := handle.Synthesize(ctx, piece, speaker, params)
		if err != nil {
			o.count(req.Model, "generation_error")
			o.log.Warn("chunk synthesis failed",
				slog.String("model", req.Model),
				slog.Int("chunk", i),
				slog.String("error", err.Error()))
			return Result{}, &GenerationError{Err: err}
		}
		rendered = append(rendered, samples)
	}
	o.chunkCt.Add(ctx, int64(len(pieces)), metric.WithAttributes(attribute.String("model", req.Model)))

	combined := Stitch(rendered, SilenceSamples(o.cfg.SampleRate, o.cfg.SilenceMS))

	id := uuid.New()
	filename := fmt.Sprintf("output_%x.wav", id[:4])
	if err := o.writeWAV(filename, combined); err != nil {
		o.count(req.Model, "io_error")
		return Result{}, &GenerationError{Err: err}
	}
	data, err := o.out.Read(filename)
	if err != nil {
		o.count(req.Model, "io_error")
		return Result{}, &GenerationError{Err: err}
	}

	elapsed := time.Since(start)
	o.count(req.Model, "ok")
	o.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("model", req.Model)))

	if err := o.hist.Append(ctx, history.Entry{
		Filename:   filename,
		ModelKey:   req.Model,
		Speaker:    speaker,
		Chars:      len(text),
		DurationMS: elapsed.Milliseconds(),
	}); err != nil {
		o.log.Warn("failed to record history entry", slog.String("error", err.Error()))
	}
	evt := protocol.AudioReady{
		Filename:   filename,
		Model:      req.Model,
		Speaker:    speaker,
		Chars:      len(text),
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err := o.events.PublishJSON(protocol.SubjectAudioReady, evt); err != nil {
		o.log.Warn("failed to publish audio event", slog.String("error", err.Error()))
	}

	o.log.Info("synthesis complete",
		slog.String("model", desc.Key),
		slog.String("filename", filename),
		slog.Duration("latency", elapsed))

	return Result{Audio: data, Filename: filename}, nil
}

// SilenceSamples returns the number of zero samples for ms of silence at
// the given sample rate.
func SilenceSamples(sampleRate, ms int) int {
	return sampleRate * ms / 1000
}

// Stitch concatenates rendered chunks, inserting silence between
// consecutive chunks and never after the last. A single chunk passes
// through untouched.
func Stitch(rendered [][]int16, silence int) []int16 {
	if len(rendered) == 1 {
		return rendered[0]
	}
	total := silence * (len(rendered) - 1)
	for _, r := range rendered {
		total += len(r)
	}
	combined := make([]int16, 0, total)
	for i, r := range rendered {
		combined = append(combined, r...)
		if i < len(rendered)-1 {
			combined = append(combined, make([]int16, silence)...)
		}
	}
	return combined
}

func (o *Orchestrator) writeWAV(filename string, samples []int16) error {
	file, err := o.out.Create(filename)
	if err != nil {
		return err
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: o.cfg.Channels, SampleRate: o.cfg.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, o.cfg.SampleRate, 16, o.cfg.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		enc.Close()
		file.Close()
		o.discard(filename)
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		o.discard(filename)
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return file.Close()
}

func (o *Orchestrator) discard(filename string) {
	if err := o.out.Remove(filename); err != nil {
		o.log.Warn("failed to discard partial artifact", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) count(model, outcome string) {
	o.reqs.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome)))
}

func defaultFloat(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}
