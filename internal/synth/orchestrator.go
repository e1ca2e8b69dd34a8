package synth

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cadenza-labs/synthd/internal/admission"
	"github.com/cadenza-labs/synthd/internal/audio"
	"github.com/cadenza-labs/synthd/internal/config"
	"github.com/cadenza-labs/synthd/internal/golden"
	"github.com/cadenza-labs/synthd/internal/integrity"
	"github.com/cadenza-labs/synthd/internal/metrics"
	"github.com/cadenza-labs/synthd/internal/stream"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const defaultSeconds = 5.0

// Engine scripts address multiple speakers as "Speaker N: ...". Bare text
// is wrapped as speaker zero.
var speakerRe = regexp.MustCompile(`^Speaker\s+\d+\s*:`)

// Request is one synthesis call as the caller phrased it.
type Request struct {
	Text         string         `json:"text"`
	Profile      string         `json:"profile,omitempty"`
	VoicePath    string         `json:"voice,omitempty"`
	Seconds      float64        `json:"seconds,omitempty"`
	MaxNewTokens int            `json:"max_new_tokens,omitempty"`
	Overrides    map[string]any `json:"overrides,omitempty"`
}

// Result describes a completed synthesis.
type Result struct {
	RequestID    string          `json:"request_id"`
	Profile      string          `json:"profile"`
	ModelID      string          `json:"model_id"`
	Transport    string          `json:"transport"`
	Engine       string          `json:"engine"`
	Device       string          `json:"device,omitempty"`
	Fingerprint  string          `json:"control_hash"`
	Warnings     []string        `json:"warnings,omitempty"`
	OutputPath   string          `json:"output_path"`
	FileSize     int64           `json:"file_size"`
	DurationSec  float64         `json:"duration"`
	WallTimeSec  float64         `json:"wall_time"`
	RTF          float64         `json:"rtf"`
	TargetFrames int             `json:"target_frames"`
	QC           audio.QCReport  `json:"qc"`
	Stream       *stream.Metrics `json:"stream,omitempty"`
}

type cachedVoice struct {
	samples []float64
	report  audio.VoiceReport
}

// Orchestrator runs the full synthesis pipeline: input and voice checks,
// admission, surface validation, engine invocation, collection, persistence
// and metrics.
type Orchestrator struct {
	cfg      config.SynthesisConfig
	registry *Registry
	gate     *admission.Gate
	recorder *metrics.Recorder
	log      *slog.Logger
	clock    func() time.Time

	mu     sync.Mutex
	voices map[string]cachedVoice

	requests metric.Int64Counter
	failures metric.Int64Counter
	rtfHist  metric.Float64Histogram
	wallHist metric.Float64Histogram
}

func NewOrchestrator(cfg config.SynthesisConfig, registry *Registry, gate *admission.Gate, recorder *metrics.Recorder, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		gate:     gate,
		recorder: recorder,
		log:      log.With(slog.String("component", "orchestrator")),
		clock:    time.Now,
		voices:   make(map[string]cachedVoice),
	}

	meter := otel.Meter("synthd/synth")
	var err error
	if o.requests, err = meter.Int64Counter("synthd_requests_total",
		metric.WithDescription("Synthesis requests by profile and outcome")); err != nil {
		o.log.Warn("request counter unavailable", slog.String("error", err.Error()))
	}
	if o.failures, err = meter.Int64Counter("synthd_failures_total",
		metric.WithDescription("Failed synthesis requests by profile")); err != nil {
		o.log.Warn("failure counter unavailable", slog.String("error", err.Error()))
	}
	if o.rtfHist, err = meter.Float64Histogram("synthd_rtf",
		metric.WithDescription("Real-time factor of successful syntheses")); err != nil {
		o.log.Warn("rtf histogram unavailable", slog.String("error", err.Error()))
	}
	if o.wallHist, err = meter.Float64Histogram("synthd_wall_seconds",
		metric.WithDescription("Wall-clock synthesis time in seconds")); err != nil {
		o.log.Warn("wall time histogram unavailable", slog.String("error", err.Error()))
	}
	return o
}

// Registry exposes the configured models, for health reporting.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Gate exposes the admission gate, for health reporting.
func (o *Orchestrator) Gate() *admission.Gate { return o.gate }

// Synthesize runs one request end to end. The returned error classifies
// the failure: *InputError, *UnavailableError, *OverloadError and
// *ContractError are caller problems; anything else is an engine or
// storage fault.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (*Result, error) {
	rec := metrics.Record{
		RequestID: uuid.NewString(),
		Profile:   req.Profile,
	}

	profile := golden.Profile(req.Profile)
	if req.Profile == "" {
		profile = golden.ProfileStreaming
		rec.Profile = string(profile)
	}
	if !profile.Valid() {
		return nil, o.fail(rec, inputErrorf("unknown profile: %s", req.Profile))
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, o.fail(rec, inputErrorf("text must not be empty"))
	}
	seconds := req.Seconds
	if seconds <= 0 {
		seconds = defaultSeconds
	}
	if seconds > o.cfg.MaxSeconds {
		return nil, o.fail(rec, inputErrorf("requested %.1fs exceeds limit of %.1fs", seconds, o.cfg.MaxSeconds))
	}
	if !speakerRe.MatchString(text) {
		text = "Speaker 0: " + text
	}

	model, ok := o.registry.ByProfile(profile)
	if !ok {
		return nil, o.fail(rec, &UnavailableError{ModelID: string(profile)})
	}
	rec.ModelID = model.ID()
	rec.Transport = model.Transport()
	rec.Engine = model.EngineKind()
	rec.Device = model.Device()
	if missing, ok := model.Available(); !ok {
		return nil, o.fail(rec, &UnavailableError{ModelID: model.ID(), Missing: missing})
	}

	voicePath := req.VoicePath
	if voicePath == "" {
		voicePath = o.cfg.DefaultVoice
	}
	voice, err := o.loadVoice(voicePath)
	if err != nil {
		return nil, o.fail(rec, err)
	}

	release, ok := o.gate.TryAcquire(string(profile))
	if !ok {
		return nil, o.fail(rec, &OverloadError{Profile: string(profile), RetryAfter: o.cfg.RetryAfterSec})
	}
	defer release()

	surface := golden.DefaultSurface(profile)
	for key, value := range req.Overrides {
		surface.Set(key, value)
	}
	surface.SetPayload("text", text)
	surface.SetPayload("voice_samples", len(voice))
	if req.MaxNewTokens > 0 {
		surface.SetPayload("max_new_tokens", req.MaxNewTokens)
	}
	if profile == golden.ProfileStreaming {
		surface.SetPayload("audio_streamer", "collector")
	}

	verdict := golden.Validate(profile, surface)
	rec.Fingerprint = verdict.Fingerprint
	for _, warning := range verdict.Warnings {
		o.log.Warn("control surface drift",
			slog.String("request_id", rec.RequestID),
			slog.String("control_hash", verdict.Fingerprint),
			slog.String("drift", warning))
	}
	if !verdict.Valid {
		return nil, o.fail(rec, &ContractError{
			Profile:     string(profile),
			Fingerprint: verdict.Fingerprint,
			Problems:    verdict.Errors,
		})
	}

	rec.TargetFrames = int(math.Round(seconds * model.FrameRate()))
	engReq := EngineRequest{
		Text:      text,
		Voice:     voice,
		Seconds:   seconds,
		FrameRate: model.FrameRate(),
	}

	var collector *stream.Collector
	var sink Sink
	if profile == golden.ProfileStreaming {
		collector = stream.NewCollector(o.log)
		sink = collector
	}

	start := o.clock()
	buffers, err := model.Engine().Generate(ctx, engReq, surface, sink)
	rec.WallTimeSec = o.clock().Sub(start).Seconds()
	if err != nil {
		return nil, o.fail(rec, fmt.Errorf("engine: %w", err))
	}

	var samples []float64
	if collector != nil {
		sm := collector.Metrics()
		rec.Puts = sm.Puts
		rec.Chunks = sm.Chunks
		rec.TotalSamples = sm.TotalSamples
		rec.FirstChunkMS = sm.FirstChunkMS
		chunks := collector.Chunks()
		if len(chunks) == 0 {
			return nil, o.fail(rec, ErrNoAudio)
		}
		samples = audio.Crossfade(chunks, o.cfg.CrossfadeSamples)
	} else {
		if len(buffers) == 0 || len(buffers[0]) == 0 {
			return nil, o.fail(rec, ErrNoAudio)
		}
		if len(buffers) > 1 {
			o.log.Warn("engine returned extra buffers, using the first",
				slog.String("request_id", rec.RequestID),
				slog.Int("buffers", len(buffers)))
		}
		samples = buffers[0]
		rec.TotalSamples = len(samples)
	}

	rec.DurationSec = float64(len(samples)) / audio.SampleRate
	// Real-time factor: audio seconds produced per wall-clock second.
	// Above 1.0 the engine outpaces playback.
	rec.RTF = rec.DurationSec / math.Max(rec.WallTimeSec, 1e-6)

	outPath := filepath.Join(o.cfg.OutputDir, fmt.Sprintf("synth_%s_%s.wav", profile, rec.RequestID))
	written, err := audio.WriteFileAtomic(outPath, samples, audio.SampleRate, true)
	if err != nil {
		return nil, o.fail(rec, fmt.Errorf("persist output: %w", err))
	}
	rec.OutputPath = written.Path
	rec.FileSize = written.FileSize
	rec.Success = true
	o.recorder.Record(rec)

	attrs := metric.WithAttributes(
		attribute.String("profile", string(profile)),
		attribute.String("model", model.ID()))
	o.requests.Add(ctx, 1, attrs)
	o.rtfHist.Record(ctx, rec.RTF, attrs)
	o.wallHist.Record(ctx, rec.WallTimeSec, attrs)

	result := &Result{
		RequestID:    rec.RequestID,
		Profile:      string(profile),
		ModelID:      model.ID(),
		Transport:    model.Transport(),
		Engine:       model.EngineKind(),
		Device:       model.Device(),
		Fingerprint:  verdict.Fingerprint,
		Warnings:     verdict.Warnings,
		OutputPath:   written.Path,
		FileSize:     written.FileSize,
		DurationSec:  rec.DurationSec,
		WallTimeSec:  rec.WallTimeSec,
		RTF:          rec.RTF,
		TargetFrames: rec.TargetFrames,
		QC:           written.QC,
	}
	if collector != nil {
		sm := collector.Metrics()
		result.Stream = &sm
	}
	return result, nil
}

// Warmup drives each configured engine through a short render so first
// real requests do not pay cold-start cost. Voice material is synthetic;
// warmup never touches caller-facing validation.
func (o *Orchestrator) Warmup(ctx context.Context) map[string]error {
	voice := make([]float64, audio.SampleRate)
	fillTone(voice, 220, 0)

	results := make(map[string]error)
	for _, model := range o.registry.Models() {
		profile := model.Profile()
		if _, ok := model.Available(); !ok {
			results[string(profile)] = &UnavailableError{ModelID: model.ID()}
			continue
		}
		surface := golden.DefaultSurface(profile)
		req := EngineRequest{Text: "Speaker 0: Warmup.", Voice: voice, Seconds: 1, FrameRate: model.FrameRate()}

		var sink Sink
		var collector *stream.Collector
		if profile == golden.ProfileStreaming {
			collector = stream.NewCollector(o.log)
			sink = collector
		}
		buffers, err := model.Engine().Generate(ctx, req, surface, sink)
		results[string(profile)] = err
		if err != nil {
			o.log.Warn("warmup failed",
				slog.String("profile", string(profile)),
				slog.String("error", err.Error()))
			continue
		}

		var samples []float64
		if collector != nil {
			samples = audio.Crossfade(collector.Chunks(), o.cfg.CrossfadeSamples)
		} else if len(buffers) > 0 {
			samples = buffers[0]
		}
		o.checkIntegrity(string(profile), samples)
	}
	return results
}

// checkIntegrity compares warmup output against the profile's golden
// reference hashes. A mismatch flags engine drift but never blocks
// serving; operators see it in the log.
func (o *Orchestrator) checkIntegrity(profile string, samples []float64) {
	if o.cfg.GoldenDir == "" || len(samples) == 0 {
		return
	}
	refDir := filepath.Join(o.cfg.GoldenDir, profile)
	result, err := integrity.Verify(refDir, samples, audio.SampleRate)
	if err != nil {
		o.log.Warn("integrity check failed",
			slog.String("profile", profile),
			slog.String("error", err.Error()))
		return
	}
	switch {
	case result.FirstRun:
		o.log.Info("integrity references recorded",
			slog.String("profile", profile),
			slog.String("dir", refDir))
	case result.Valid:
		o.log.Info("integrity check passed", slog.String("profile", profile))
	default:
		o.log.Warn("integrity check mismatch, engine output drifted",
			slog.String("profile", profile),
			slog.String("raw", result.Hashes.Raw),
			slog.String("mel", result.Hashes.Mel),
			slog.String("mfcc", result.Hashes.MFCC))
	}
}

// loadVoice reads, resamples and validates reference voice audio, with a
// small cache keyed by path.
func (o *Orchestrator) loadVoice(path string) ([]float64, error) {
	o.mu.Lock()
	if cached, ok := o.voices[path]; ok {
		o.mu.Unlock()
		return cached.samples, nil
	}
	o.mu.Unlock()

	samples, report, err := audio.LoadVoice(path)
	if err != nil {
		return nil, inputErrorf("voice %s: %v", path, err)
	}
	if err := audio.ValidateVoice(report); err != nil {
		return nil, inputErrorf("voice %s: %v", path, err)
	}
	if report.Resampled {
		o.log.Info("voice resampled",
			slog.String("path", path),
			slog.Int("source_rate", report.SourceRate))
	}

	o.mu.Lock()
	o.voices[path] = cachedVoice{samples: samples, report: report}
	o.mu.Unlock()
	return samples, nil
}

// fail records the failure and forwards err unchanged.
func (o *Orchestrator) fail(rec metrics.Record, err error) error {
	rec.Success = false
	rec.Error = err.Error()
	o.recorder.Record(rec)
	o.failures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("profile", rec.Profile)))
	return err
}
