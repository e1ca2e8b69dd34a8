package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cadenza-labs/synthd/internal/metrics"
	"github.com/cadenza-labs/synthd/internal/synth"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (r *Runtime) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type modelHealth struct {
	ID        string   `json:"id"`
	Profile   string   `json:"profile"`
	Device    string   `json:"device,omitempty"`
	Transport string   `json:"transport"`
	Engine    string   `json:"engine"`
	Available bool     `json:"available"`
	Missing   []string `json:"missing,omitempty"`
	InFlight  int      `json:"in_flight"`
}

type healthBody struct {
	Status  string          `json:"status"`
	Models  []modelHealth   `json:"models"`
	Bus     bool            `json:"bus_connected"`
	Journal string          `json:"journal_mode"`
	Window  metrics.Summary `json:"window"`
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	registry := r.orchestrator.Registry()
	gate := r.orchestrator.Gate()

	body := healthBody{
		Status:  "ok",
		Bus:     r.busClient.Healthy(),
		Journal: r.cfg.Journal.RetentionMode,
		Window:  r.recorder.Summarize(metrics.RingCapacity),
	}
	for _, model := range registry.Models() {
		missing, available := model.Available()
		if !available {
			body.Status = "degraded"
		}
		body.Models = append(body.Models, modelHealth{
			ID:        model.ID(),
			Profile:   string(model.Profile()),
			Device:    model.Device(),
			Transport: model.Transport(),
			Engine:    model.EngineKind(),
			Available: available,
			Missing:   missing,
			InFlight:  gate.InFlight(string(model.Profile())),
		})
	}

	status := http.StatusOK
	if body.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (r *Runtime) handleWarmup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "POST required"})
		return
	}

	results := r.orchestrator.Warmup(req.Context())
	body := make(map[string]string, len(results))
	status := http.StatusOK
	for profile, err := range results {
		if err != nil {
			body[profile] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		body[profile] = "ok"
	}
	writeJSON(w, status, body)
}

func (r *Runtime) handleSynthesize(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "POST required"})
		return
	}

	var sreq synth.Request
	if err := json.NewDecoder(req.Body).Decode(&sreq); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	result, err := r.orchestrator.Synthesize(req.Context(), sreq)
	if err != nil {
		r.writeSynthesisError(w, err)
		return
	}

	w.Header().Set("X-Request-ID", result.RequestID)
	w.Header().Set("X-Model", result.ModelID)
	w.Header().Set("X-Transport", result.Transport)
	w.Header().Set("X-Engine", result.Engine)
	w.Header().Set("X-Control-Hash", result.Fingerprint)
	w.Header().Set("X-Duration", strconv.FormatFloat(result.DurationSec, 'f', 3, 64))
	w.Header().Set("X-RTF", strconv.FormatFloat(result.RTF, 'f', 3, 64))

	if req.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, result)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, req, result.OutputPath)
}

func (r *Runtime) writeSynthesisError(w http.ResponseWriter, err error) {
	var (
		inputErr    *synth.InputError
		contractErr *synth.ContractError
		overload    *synth.OverloadError
		unavailable *synth.UnavailableError
	)
	switch {
	case errors.As(err, &inputErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &contractErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case errors.As(err, &overload):
		w.Header().Set("Retry-After", strconv.Itoa(overload.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})
	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		r.logger.Error("synthesis failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}
