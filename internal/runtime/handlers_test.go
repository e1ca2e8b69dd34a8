package runtime

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cadenza-labs/synthd/internal/admission"
	"github.com/cadenza-labs/synthd/internal/audio"
	"github.com/cadenza-labs/synthd/internal/config"
	"github.com/cadenza-labs/synthd/internal/metrics"
	"github.com/cadenza-labs/synthd/internal/synth"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeVoice(t *testing.T, dir string) string {
	t.Helper()
	samples := make([]float64, audio.SampleRate)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate)
	}
	path := filepath.Join(dir, "voice.wav")
	if _, err := audio.WriteFileAtomic(path, samples, audio.SampleRate, false); err != nil {
		t.Fatalf("write voice: %v", err)
	}
	return path
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Synthesis.OutputDir = filepath.Join(dir, "out")
	cfg.Synthesis.DefaultVoice = writeVoice(t, dir)

	logger := newLogger()
	recorder := metrics.NewRecorder(logger)
	registry, err := synth.NewRegistry(cfg.Models)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	gate := admission.NewGate(registry.Capacities())

	rt := &Runtime{
		cfg:          cfg,
		logger:       logger,
		recorder:     recorder,
		orchestrator: synth.NewOrchestrator(cfg.Synthesis, registry, gate, recorder, logger),
	}
	rt.ready.Store(true)
	return rt
}

func postSynthesize(t *testing.T, rt *Runtime, body any, query string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/synthesize"+query, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	rt.handleSynthesize(rec, req)
	return rec
}

func TestSynthesizeEndpointServesWAV(t *testing.T) {
	rt := newTestRuntime(t)

	rec := postSynthesize(t, rt, synth.Request{Text: "hello", Profile: "streaming", Seconds: 1}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/wav" {
		t.Fatalf("expected audio/wav, got %q", got)
	}
	if rec.Header().Get("X-Request-ID") == "" || rec.Header().Get("X-Control-Hash") == "" {
		t.Fatal("expected tracing headers")
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("RIFF")) {
		t.Fatal("expected a RIFF payload")
	}
}

func TestSynthesizeEndpointJSONFormat(t *testing.T) {
	rt := newTestRuntime(t)

	rec := postSynthesize(t, rt, synth.Request{Text: "hello", Profile: "offline", Seconds: 1}, "?format=json")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result synth.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ModelID != "7B" || result.OutputPath == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSynthesizeEndpointStatusMapping(t *testing.T) {
	rt := newTestRuntime(t)

	if rec := postSynthesize(t, rt, synth.Request{Text: "  "}, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", rec.Code)
	}

	bad := synth.Request{Text: "x", Profile: "offline", Seconds: 1, Overrides: map[string]any{"generation_config": "fast"}}
	if rec := postSynthesize(t, rt, bad, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for contract break, got %d", rec.Code)
	}

	release, ok := rt.orchestrator.Gate().TryAcquire("streaming")
	if !ok {
		t.Fatal("expected to hold the only streaming slot")
	}
	defer release()
	rec := postSynthesize(t, rt, synth.Request{Text: "x", Profile: "streaming", Seconds: 1}, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while saturated, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "10" {
		t.Fatalf("expected Retry-After 10, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestSynthesizeEndpointRequiresPOST(t *testing.T) {
	rt := newTestRuntime(t)

	req := httptest.NewRequest(http.MethodGet, "/synthesize", nil)
	rec := httptest.NewRecorder()
	rt.handleSynthesize(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	rt := newTestRuntime(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	rt.handleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" || len(body.Models) != 2 {
		t.Fatalf("unexpected health body: %+v", body)
	}
	for _, m := range body.Models {
		if !m.Available || m.InFlight != 0 {
			t.Fatalf("unexpected model health: %+v", m)
		}
	}
}

func TestWarmupEndpoint(t *testing.T) {
	rt := newTestRuntime(t)

	req := httptest.NewRequest(http.MethodPost, "/warmup", nil)
	rec := httptest.NewRecorder()
	rt.handleWarmup(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode warmup: %v", err)
	}
	if body["streaming"] != "ok" || body["offline"] != "ok" {
		t.Fatalf("unexpected warmup body: %v", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	rt := newTestRuntime(t)

	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", rec.Code)
	}

	rt.ready.Store(false)
	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not ready, got %d", rec.Code)
	}
}
