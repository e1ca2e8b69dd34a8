package synth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cadenza-labs/synthd/internal/admission"
	"github.com/cadenza-labs/synthd/internal/audio"
	"github.com/cadenza-labs/synthd/internal/config"
	"github.com/cadenza-labs/synthd/internal/metrics"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeVoice(t *testing.T, dir string, seconds float64) string {
	t.Helper()
	n := int(seconds * audio.SampleRate)
	samples := make([]float64, n)
	fillTone(samples, 220, 0)
	path := filepath.Join(dir, "voice.wav")
	if _, err := audio.WriteFileAtomic(path, samples, audio.SampleRate, false); err != nil {
		t.Fatalf("write voice: %v", err)
	}
	return path
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *metrics.Recorder) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.SynthesisConfig{
		OutputDir:        filepath.Join(dir, "out"),
		DefaultVoice:     writeVoice(t, dir, 1.0),
		MaxSeconds:       30,
		CrossfadeSamples: 8,
		RetryAfterSec:    10,
	}
	registry, err := NewRegistry([]config.ModelConfig{
		{ID: "1.5B", Profile: "streaming", Device: "cpu", Engine: "mock", Capacity: 1, FrameRate: 7.5},
		{ID: "7B", Profile: "offline", Device: "mps", Engine: "mock", FrameRate: 7.5},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	recorder := metrics.NewRecorder(newLogger())
	gate := admission.NewGate(registry.Capacities())
	return NewOrchestrator(cfg, registry, gate, recorder, newLogger()), recorder
}

func TestSynthesizeStreaming(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	res, err := o.Synthesize(context.Background(), Request{Text: "hello there", Profile: "streaming", Seconds: 2})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.RequestID == "" {
		t.Fatal("expected request id")
	}
	if len(res.Fingerprint) != 8 {
		t.Fatalf("expected 8-char control hash, got %q", res.Fingerprint)
	}
	if res.TargetFrames != 15 {
		t.Fatalf("expected 15 target frames for 2s at 7.5 fps, got %d", res.TargetFrames)
	}
	if math.Abs(res.DurationSec-2.0) > 0.05 {
		t.Fatalf("expected about 2s of audio, got %.3fs", res.DurationSec)
	}
	if res.Stream == nil {
		t.Fatal("expected stream metrics on streaming profile")
	}
	if res.Stream.Chunks != 15 || !res.Stream.Ended {
		t.Fatalf("unexpected stream metrics: %+v", res.Stream)
	}
	if !res.QC.Valid {
		t.Fatalf("expected valid qc on normalized output, got %+v", res.QC)
	}
	if _, err := os.Stat(res.OutputPath); err != nil {
		t.Fatalf("expected persisted output: %v", err)
	}
	decoded, rate, _, err := audio.DecodeFile(res.OutputPath)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if rate != audio.SampleRate || len(decoded) == 0 {
		t.Fatalf("unexpected output audio: rate %d, %d samples", rate, len(decoded))
	}
}

func TestSynthesizeOffline(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	res, err := o.Synthesize(context.Background(), Request{Text: "Speaker 1: scripted line", Profile: "offline", Seconds: 2})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.Stream != nil {
		t.Fatal("expected no stream metrics on offline profile")
	}
	if res.DurationSec != 2.0 {
		t.Fatalf("expected exactly 2s from offline render, got %.3fs", res.DurationSec)
	}
	if res.ModelID != "7B" || res.Transport != "offline" {
		t.Fatalf("unexpected model routing: %s via %s", res.ModelID, res.Transport)
	}
	if res.Engine != "inproc" {
		t.Fatalf("expected inproc engine, got %s", res.Engine)
	}
}

func TestTransportFollowsProfile(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	for _, profile := range []string{"streaming", "offline"} {
		res, err := o.Synthesize(context.Background(), Request{Text: "routed line", Profile: profile, Seconds: 1})
		if err != nil {
			t.Fatalf("synthesize %s: %v", profile, err)
		}
		if res.Transport != profile {
			t.Fatalf("transport = %q, want %q", res.Transport, profile)
		}
		if res.Engine != "inproc" {
			t.Fatalf("engine = %q, want inproc", res.Engine)
		}
	}
}

func TestRealTimeFactorDirection(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	// Two clock reads per call: start and end. One wall second spent
	// rendering two seconds of audio must give a factor of 2, not 0.5.
	base := time.Now()
	calls := 0
	o.clock = func() time.Time {
		calls++
		if calls%2 == 0 {
			return base.Add(time.Second)
		}
		return base
	}

	res, err := o.Synthesize(context.Background(), Request{Text: "paced line", Profile: "offline", Seconds: 2})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.WallTimeSec != 1.0 {
		t.Fatalf("wall time = %.3fs, want 1s", res.WallTimeSec)
	}
	if math.Abs(res.RTF-2.0) > 1e-9 {
		t.Fatalf("rtf = %.3f, want 2.0 (audio seconds per wall second)", res.RTF)
	}
}

func TestInputRejections(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	cases := []Request{
		{Text: "   ", Profile: "streaming"},
		{Text: "ok", Profile: "batch"},
		{Text: "ok", Profile: "streaming", Seconds: 31},
	}
	for _, req := range cases {
		_, err := o.Synthesize(context.Background(), req)
		var inputErr *InputError
		if !errors.As(err, &inputErr) {
			t.Fatalf("expected input error for %+v, got %v", req, err)
		}
	}
}

func TestDefaultProfileIsStreaming(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	res, err := o.Synthesize(context.Background(), Request{Text: "default route", Seconds: 1})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.Profile != "streaming" {
		t.Fatalf("expected streaming default, got %s", res.Profile)
	}
}

func TestOverloadRejection(t *testing.T) {
	o, rec := newTestOrchestrator(t)

	release, ok := o.Gate().TryAcquire("streaming")
	if !ok {
		t.Fatal("expected to hold the only slot")
	}
	defer release()

	_, err := o.Synthesize(context.Background(), Request{Text: "busy", Profile: "streaming", Seconds: 1})
	var overload *OverloadError
	if !errors.As(err, &overload) {
		t.Fatalf("expected overload error, got %v", err)
	}
	if overload.RetryAfter != 10 {
		t.Fatalf("expected retry-after 10, got %d", overload.RetryAfter)
	}

	recent := rec.Recent(1)
	if len(recent) != 1 || recent[0].Success {
		t.Fatalf("expected failure record, got %+v", recent)
	}
}

func TestContractRejection(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.Synthesize(context.Background(), Request{
		Text:      "bad config",
		Profile:   "offline",
		Seconds:   1,
		Overrides: map[string]any{"generation_config": "fast"},
	})
	var contractErr *ContractError
	if !errors.As(err, &contractErr) {
		t.Fatalf("expected contract error, got %v", err)
	}
	if len(contractErr.Fingerprint) != 8 {
		t.Fatalf("expected fingerprint on contract error, got %q", contractErr.Fingerprint)
	}
}

func TestDriftWarnsButProceeds(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	res, err := o.Synthesize(context.Background(), Request{
		Text:      "drifted",
		Profile:   "streaming",
		Seconds:   1,
		Overrides: map[string]any{"cfg_scale": 1.5},
	})
	if err != nil {
		t.Fatalf("expected drift to proceed, got %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected drift warning")
	}

	clean, err := o.Synthesize(context.Background(), Request{Text: "drifted", Profile: "streaming", Seconds: 1})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if clean.Fingerprint == res.Fingerprint {
		t.Fatal("expected drifted surface to fingerprint differently")
	}
}

func TestUnavailableModel(t *testing.T) {
	dir := t.TempDir()
	cfg := config.SynthesisConfig{
		OutputDir:        filepath.Join(dir, "out"),
		DefaultVoice:     writeVoice(t, dir, 1.0),
		MaxSeconds:       30,
		CrossfadeSamples: 8,
		RetryAfterSec:    10,
	}
	registry, err := NewRegistry([]config.ModelConfig{
		{ID: "7B", Profile: "offline", Engine: "mock", FrameRate: 7.5, SnapshotPath: filepath.Join(dir, "missing-snapshot")},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	o := NewOrchestrator(cfg, registry, admission.NewGate(registry.Capacities()), metrics.NewRecorder(newLogger()), newLogger())

	_, err = o.Synthesize(context.Background(), Request{Text: "no weights", Profile: "offline", Seconds: 1})
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if len(unavailable.Missing) == 0 {
		t.Fatal("expected missing artifact names")
	}
}

func TestVoiceTooShortRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	short := writeVoice(t, t.TempDir(), 0.2)

	_, err := o.Synthesize(context.Background(), Request{Text: "ok", Profile: "streaming", Seconds: 1, VoicePath: short})
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected input error for short voice, got %v", err)
	}
}

func TestSuccessRecorded(t *testing.T) {
	o, rec := newTestOrchestrator(t)

	res, err := o.Synthesize(context.Background(), Request{Text: "record me", Profile: "streaming", Seconds: 1})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	recent := rec.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recent))
	}
	got := recent[0]
	if !got.Success || got.RequestID != res.RequestID {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Fingerprint != res.Fingerprint || got.OutputPath != res.OutputPath {
		t.Fatalf("record does not match result: %+v", got)
	}
	if got.FirstChunkMS == nil {
		t.Fatal("expected first chunk latency on streaming record")
	}
}

func TestWarmup(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	results := o.Warmup(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected warmup across 2 profiles, got %d", len(results))
	}
	for profile, err := range results {
		if err != nil {
			t.Fatalf("warmup %s: %v", profile, err)
		}
	}
}

func TestWarmupRecordsGoldenReferences(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.cfg.GoldenDir = filepath.Join(t.TempDir(), "golden")

	o.Warmup(context.Background())
	for _, profile := range []string{"streaming", "offline"} {
		ref := filepath.Join(o.cfg.GoldenDir, profile, "hash_raw.sha")
		if _, err := os.Stat(ref); err != nil {
			t.Fatalf("expected recorded reference for %s: %v", profile, err)
		}
	}

	// deterministic engines must keep matching their own references
	o.Warmup(context.Background())
}
