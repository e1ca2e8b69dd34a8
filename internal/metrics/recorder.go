// Package metrics keeps a bounded in-memory window of recent synthesis
// outcomes and forwards every record outward.
package metrics

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// RingCapacity bounds the in-memory record window; the oldest record is
// evicted first.
const RingCapacity = 100

// Record captures the outcome of one synthesis request, successful or not.
// It is immutable once recorded.
type Record struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	Profile      string    `json:"profile"`
	ModelID      string    `json:"model_id"`
	Transport    string    `json:"transport"`
	Engine       string    `json:"engine,omitempty"`
	Device       string    `json:"device,omitempty"`
	Fingerprint  string    `json:"control_hash,omitempty"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	WallTimeSec  float64   `json:"wall_time,omitempty"`
	DurationSec  float64   `json:"duration,omitempty"`
	RTF          float64   `json:"rtf,omitempty"`
	TargetFrames int       `json:"target_frames,omitempty"`
	Puts         int       `json:"put_count,omitempty"`
	Chunks       int       `json:"chunk_count,omitempty"`
	TotalSamples int       `json:"total_samples,omitempty"`
	FirstChunkMS *float64  `json:"first_chunk_ms,omitempty"`
	OutputPath   string    `json:"output_path,omitempty"`
	FileSize     int64     `json:"file_size,omitempty"`
}

// Sink consumes each record as it is recorded, e.g. a bus publisher or a
// durable journal. Consume must not block for long; it runs on the request
// path.
type Sink interface {
	Consume(Record)
}

// Recorder is the shared ring. Append and trim happen under one lock; all
// other synthesis state is call-scoped.
type Recorder struct {
	mu    sync.Mutex
	ring  []Record
	log   *slog.Logger
	sinks []Sink
	clock func() time.Time
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	return &Recorder{
		log:   log.With(slog.String("component", "metrics")),
		sinks: sinks,
		clock: time.Now,
	}
}

// Record appends rec to the ring, evicting the oldest entry past capacity,
// then forwards it to every sink.
func (r *Recorder) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.clock().UTC()
	}

	r.mu.Lock()
	r.ring = append(r.ring, rec)
	if len(r.ring) > RingCapacity {
		r.ring = r.ring[len(r.ring)-RingCapacity:]
	}
	r.mu.Unlock()

	r.log.Info("synthesis record",
		slog.String("request_id", rec.RequestID),
		slog.String("profile", rec.Profile),
		slog.Bool("success", rec.Success),
		slog.Float64("rtf", rec.RTF),
		slog.Float64("duration", rec.DurationSec),
		slog.String("control_hash", rec.Fingerprint),
		slog.String("error", rec.Error),
	)
	for _, sink := range r.sinks {
		sink.Consume(rec)
	}
}

// Recent returns up to n most recent records, oldest first.
func (r *Recorder) Recent(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.ring) {
		n = len(r.ring)
	}
	out := make([]Record, n)
	copy(out, r.ring[len(r.ring)-n:])
	return out
}

// Percentiles holds the rank-based summary of one series.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	Avg float64 `json:"avg"`
}

// Summary aggregates the most recent records.
type Summary struct {
	Total        int          `json:"total_requests"`
	Succeeded    int          `json:"successful"`
	Failed       int          `json:"failed"`
	SuccessRate  float64      `json:"success_rate"`
	RTF          *Percentiles `json:"rtf,omitempty"`
	FirstChunkMS *Percentiles `json:"first_chunk_ms,omitempty"`
}

// Summarize computes the summary over the last n records. Percentiles use
// the rank method: values sorted ascending, p50 is the element at index
// n/2, p95 the element at index ceil(0.95*n)-1 for n >= 5 and the maximum
// otherwise.
func (r *Recorder) Summarize(n int) Summary {
	recent := r.Recent(n)

	s := Summary{Total: len(recent)}
	var rtfs, firstChunks []float64
	for _, rec := range recent {
		if !rec.Success {
			s.Failed++
			continue
		}
		s.Succeeded++
		if rec.RTF > 0 {
			rtfs = append(rtfs, rec.RTF)
		}
		if rec.FirstChunkMS != nil {
			firstChunks = append(firstChunks, *rec.FirstChunkMS)
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Total)
	}
	s.RTF = summarizeSeries(rtfs)
	s.FirstChunkMS = summarizeSeries(firstChunks)
	return s
}

func summarizeSeries(values []float64) *Percentiles {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	p := &Percentiles{P50: sorted[n/2]}
	if n >= 5 {
		p.P95 = sorted[int(math.Ceil(0.95*float64(n)))-1]
	} else {
		p.P95 = sorted[n-1]
	}
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	p.Avg = sum / float64(n)
	return p
}
