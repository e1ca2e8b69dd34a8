package audio

import (
	"math"
	"testing"
)

func sine(freq float64, amplitude float64, seconds float64) []float64 {
	n := int(seconds * SampleRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)
	}
	return out
}

func TestQCValidBuffer(t *testing.T) {
	report, err := QC(sine(220, 0.5, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected valid report, got %+v", report)
	}
	if report.Silent || report.Clipped {
		t.Fatalf("unexpected flags: %+v", report)
	}
	if report.Samples != SampleRate/2 {
		t.Fatalf("expected %d samples, got %d", SampleRate/2, report.Samples)
	}
}

func TestQCRejectsNonFinite(t *testing.T) {
	buf := sine(220, 0.5, 0.1)
	buf[42] = math.NaN()
	if _, err := QC(buf); err == nil {
		t.Fatal("expected error for NaN sample")
	}
	buf[42] = math.Inf(1)
	if _, err := QC(buf); err == nil {
		t.Fatal("expected error for Inf sample")
	}
}

func TestQCFlagsClipping(t *testing.T) {
	buf := sine(220, 0.5, 0.1)
	buf[0] = 1.0
	buf[1] = -0.999
	report, err := QC(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.ClippedSamples != 2 {
		t.Fatalf("expected 2 clipped samples, got %d", report.ClippedSamples)
	}
	if report.Valid {
		t.Fatal("clipped buffer must not be valid")
	}
}

func TestQCFlagsDCOffset(t *testing.T) {
	buf := sine(220, 0.3, 0.1)
	for i := range buf {
		buf[i] += 0.05
	}
	report, err := QC(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Valid {
		t.Fatalf("buffer with dc offset %.3f must not be valid", report.DCOffset)
	}
}

func TestQCSilence(t *testing.T) {
	report, err := QC(make([]float64, 2400))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Silent {
		t.Fatal("expected silence flag")
	}
}

func TestNormalizeTargetPeak(t *testing.T) {
	out := Normalize(sine(440, 0.2, 0.2), -1.0)
	var peak float64
	for _, s := range out {
		if abs := math.Abs(s); abs > peak {
			peak = abs
		}
	}
	wantPeak := math.Pow(10, -1.0/20)
	if math.Abs(peak-wantPeak) > 1e-9 {
		t.Fatalf("peak = %.9f, want %.9f", peak, wantPeak)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	once := Normalize(sine(440, 0.2, 0.2), -1.0)
	twice := Normalize(once, -1.0)

	peakOf := func(buf []float64) float64 {
		var p float64
		for _, s := range buf {
			if abs := math.Abs(s); abs > p {
				p = abs
			}
		}
		return p
	}
	dbfs := func(p float64) float64 { return 20 * math.Log10(p) }

	if diff := math.Abs(dbfs(peakOf(once)) - dbfs(peakOf(twice))); diff >= 1e-6 {
		t.Fatalf("normalize not idempotent: peak drift %.9f dBFS", diff)
	}
}

func TestNormalizeSilentUnchanged(t *testing.T) {
	out := Normalize(make([]float64, 100), -1.0)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("silent buffer changed at %d: %v", i, s)
		}
	}
}

func TestNormalizeClampsOvershoot(t *testing.T) {
	out := Normalize(sine(100, 2.0, 0.1), 0)
	for i, s := range out {
		if s > 1 || s < -1 {
			t.Fatalf("sample %d out of range: %v", i, s)
		}
	}
}

func TestCrossfadeEmpty(t *testing.T) {
	if out := Crossfade(nil, 8); len(out) != 0 {
		t.Fatalf("expected empty output, got %d samples", len(out))
	}
}

func TestCrossfadeSingleChunk(t *testing.T) {
	chunk := sine(220, 0.5, 0.01)
	out := Crossfade([][]float64{chunk}, 8)
	if len(out) != len(chunk) {
		t.Fatalf("expected %d samples, got %d", len(chunk), len(out))
	}
	for i := range chunk {
		if out[i] != chunk[i] {
			t.Fatalf("sample %d altered", i)
		}
	}
}

func TestCrossfadeLength(t *testing.T) {
	const window = 8
	a := sine(220, 0.5, 0.01)
	b := sine(330, 0.5, 0.02)
	out := Crossfade([][]float64{a, b}, window)
	want := len(a) + len(b) - window
	if len(out) != want {
		t.Fatalf("expected %d samples, got %d", want, len(out))
	}
}

func TestCrossfadeShortChunkFallsBack(t *testing.T) {
	a := []float64{0.1, 0.2, 0.3}
	b := []float64{0.4, 0.5}
	out := Crossfade([][]float64{a, b}, 8)
	if len(out) != len(a)+len(b) {
		t.Fatalf("expected plain concatenation, got %d samples", len(out))
	}
}

func TestCrossfadeBoundaryContinuity(t *testing.T) {
	// Two identical constant chunks crossfade to the same constant.
	a := make([]float64, 100)
	b := make([]float64, 100)
	for i := range a {
		a[i] = 0.5
		b[i] = 0.5
	}
	out := Crossfade([][]float64{a, b}, 16)
	for i, s := range out {
		if math.Abs(s-0.5) > 1e-9 {
			t.Fatalf("discontinuity at %d: %v", i, s)
		}
	}
}
