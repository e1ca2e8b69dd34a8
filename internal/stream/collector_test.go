package stream

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"
)

func newCollector() *Collector {
	return NewCollector(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCollectorStateTransitions(t *testing.T) {
	c := newCollector()
	if c.State() != Idle {
		t.Fatalf("new collector state = %v, want idle", c.State())
	}
	c.Put([]float64{0.1})
	if c.State() != Collecting {
		t.Fatalf("state after put = %v, want collecting", c.State())
	}
	c.End()
	if c.State() != Ended {
		t.Fatalf("state after end = %v, want ended", c.State())
	}
}

func TestCollectorCountsPutsAndChunksSeparately(t *testing.T) {
	c := newCollector()
	c.Put([]float64{0.1, 0.2})
	c.Put([]float64{})
	c.Put([]float64{0.3}, []float64{0.4, 0.5})

	m := c.Metrics()
	if m.Puts != 3 {
		t.Fatalf("puts = %d, want 3", m.Puts)
	}
	if m.Chunks != 3 {
		t.Fatalf("chunks = %d, want 3 (empty frame not stored)", m.Chunks)
	}
	if m.TotalSamples != 5 {
		t.Fatalf("total samples = %d, want 5", m.TotalSamples)
	}
}

func TestCollectorSanitizesNonFinite(t *testing.T) {
	c := newCollector()
	c.Put([]float64{0.5, math.NaN(), math.Inf(1), -0.5})

	chunks := c.Chunks()
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	want := []float64{0.5, 0, 0, -0.5}
	for i, s := range chunks[0] {
		if s != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, s, want[i])
		}
	}
}

func TestCollectorFirstChunkLatency(t *testing.T) {
	c := newCollector()
	base := c.started
	c.clock = func() time.Time { return base.Add(120 * time.Millisecond) }

	if m := c.Metrics(); m.FirstChunkMS != nil {
		t.Fatal("first-chunk latency must be nil before any frame")
	}

	c.Put([]float64{0.1})
	c.clock = func() time.Time { return base.Add(500 * time.Millisecond) }
	c.Put([]float64{0.2})

	m := c.Metrics()
	if m.FirstChunkMS == nil {
		t.Fatal("expected first-chunk latency")
	}
	if *m.FirstChunkMS != 120 {
		t.Fatalf("first chunk at %.1fms, want 120ms", *m.FirstChunkMS)
	}
}

func TestCollectorFirstChunkIgnoresEmptyAndLateFrames(t *testing.T) {
	c := newCollector()
	base := c.started
	c.clock = func() time.Time { return base.Add(50 * time.Millisecond) }

	c.Put([]float64{})
	if m := c.Metrics(); m.FirstChunkMS != nil {
		t.Fatalf("empty put stamped first-chunk latency: %.1fms", *m.FirstChunkMS)
	}

	c.End()
	c.Put([]float64{0.1})
	if m := c.Metrics(); m.FirstChunkMS != nil {
		t.Fatalf("late frame stamped first-chunk latency: %.1fms", *m.FirstChunkMS)
	}
}

func TestCollectorMetricsInAnyState(t *testing.T) {
	c := newCollector()
	if m := c.Metrics(); m.Ended || m.Puts != 0 {
		t.Fatalf("unexpected idle metrics: %+v", m)
	}
	c.End()
	if m := c.Metrics(); !m.Ended {
		t.Fatal("expected ended flag")
	}
	// Intake after end is anomalous but tolerated.
	c.Put([]float64{0.1})
	if m := c.Metrics(); m.Puts != 1 || m.Chunks != 1 {
		t.Fatalf("late frame not counted: %+v", m)
	}
}
