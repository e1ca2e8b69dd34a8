// Package stream accumulates asynchronously delivered audio frames for one
// in-flight synthesis call. A Collector is exclusively owned by that call
// and never shared across requests.
package stream

import (
	"log/slog"
	"math"
	"time"
)

// State of a collector's session: Idle until the first frame arrives,
// Collecting afterwards, Ended once the terminal signal fires.
type State int

const (
	Idle State = iota
	Collecting
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Metrics is a snapshot of a collector's counters, readable in any state.
// FirstChunkMS is nil until the first frame has arrived.
type Metrics struct {
	Puts         int      `json:"put_count"`
	Chunks       int      `json:"chunk_count"`
	FirstChunkMS *float64 `json:"first_chunk_ms"`
	TotalSamples int      `json:"total_samples"`
	Ended        bool     `json:"ended"`
}

// Collector gathers ordered audio frames from the engine. Frames are
// sanitized on intake: non-finite samples are replaced with zero and empty
// frames are counted but not stored, so degenerate engine output shows up
// in telemetry instead of silently vanishing.
type Collector struct {
	started    time.Time
	firstChunk time.Time
	chunks     [][]float64
	puts       int
	samples    int
	state      State
	log        *slog.Logger
	clock      func() time.Time
}

func NewCollector(log *slog.Logger) *Collector {
	c := &Collector{log: log, clock: time.Now}
	c.started = c.clock()
	return c
}

// Put accepts one frame or an ordered batch. The put counter increments
// once per call regardless of frame content.
func (c *Collector) Put(frames ...[]float64) {
	late := c.state == Ended
	if late {
		// Late frames after the terminal signal are anomalous but not
		// fatal.
		c.log.Warn("frame received after end signal", slog.Int("puts", c.puts))
	}
	if c.state == Idle {
		c.state = Collecting
	}
	c.puts++

	stored := false
	for _, frame := range frames {
		sanitized := sanitize(frame)
		if len(sanitized) == 0 {
			continue
		}
		c.chunks = append(c.chunks, sanitized)
		c.samples += len(sanitized)
		stored = true
	}
	// First-chunk latency measures real audio before the end signal.
	// Empty puts and late frames must not stamp it.
	if stored && !late && c.firstChunk.IsZero() {
		c.firstChunk = c.clock()
	}
}

// End marks generation complete.
func (c *Collector) End() {
	c.state = Ended
}

// Chunks returns the stored frames in arrival order.
func (c *Collector) Chunks() [][]float64 {
	return c.chunks
}

// State returns the current session state.
func (c *Collector) State() State {
	return c.state
}

// Metrics snapshots the collector counters.
func (c *Collector) Metrics() Metrics {
	m := Metrics{
		Puts:         c.puts,
		Chunks:       len(c.chunks),
		TotalSamples: c.samples,
		Ended:        c.state == Ended,
	}
	if !c.firstChunk.IsZero() {
		ms := float64(c.firstChunk.Sub(c.started)) / float64(time.Millisecond)
		m.FirstChunkMS = &ms
	}
	return m
}

func sanitize(frame []float64) []float64 {
	out := make([]float64, len(frame))
	for i, s := range frame {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		out[i] = s
	}
	return out
}
