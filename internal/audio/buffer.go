// Package audio provides quality control, normalization, chunk assembly and
// crash-safe persistence for 24 kHz mono synthesis output.
package audio

import (
	"errors"
	"fmt"
	"math"
)

// SampleRate is the fixed rate for all synthesized and persisted audio.
const SampleRate = 24000

const (
	clipThreshold   = 0.999
	silenceRMS      = 1e-6
	silentPeakFloor = 1e-12
)

var ErrNonFinite = errors.New("non-finite sample in audio buffer")

// QCReport holds derived attributes of a sample buffer. It is computed once
// and never mutated; recompute after any change to the buffer.
type QCReport struct {
	Samples        int     `json:"samples"`
	DurationSec    float64 `json:"duration_sec"`
	PeakDBFS       float64 `json:"peak_dbfs"`
	RMS            float64 `json:"rms"`
	DCOffset       float64 `json:"dc_offset"`
	ClippedSamples int     `json:"clipped_samples"`
	Silent         bool    `json:"is_silent"`
	Clipped        bool    `json:"is_clipped"`
	Valid          bool    `json:"is_valid"`
}

// QC inspects a 24 kHz mono buffer. A non-finite sample is an engine defect,
// not a recoverable condition, so it is reported as a hard error.
func QC(samples []float64) (QCReport, error) {
	var peak, sumSquares, sum float64
	clipped := 0
	for i, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return QCReport{}, fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
		abs := math.Abs(s)
		if abs > peak {
			peak = abs
		}
		if abs >= clipThreshold {
			clipped++
		}
		sumSquares += s * s
		sum += s
	}

	var rms, dc float64
	if len(samples) > 0 {
		rms = math.Sqrt(sumSquares / float64(len(samples)))
		dc = sum / float64(len(samples))
	}
	dbfs := 20 * math.Log10(peak+silentPeakFloor)

	return QCReport{
		Samples:        len(samples),
		DurationSec:    float64(len(samples)) / SampleRate,
		PeakDBFS:       dbfs,
		RMS:            rms,
		DCOffset:       dc,
		ClippedSamples: clipped,
		Silent:         rms < silenceRMS,
		Clipped:        clipped > 0,
		Valid:          dbfs <= 0.1 && math.Abs(dc) < 0.01 && clipped == 0,
	}, nil
}

// Normalize removes DC offset and scales the buffer so its peak sits at
// targetDBFS, clamping to [-1, 1] against floating-point overshoot. Silent
// buffers are returned after DC removal only. The input is not modified.
func Normalize(samples []float64, targetDBFS float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out
	}

	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))

	var peak float64
	for i, s := range samples {
		out[i] = s - mean
		if abs := math.Abs(out[i]); abs > peak {
			peak = abs
		}
	}
	if peak <= silentPeakFloor {
		return out
	}

	gain := math.Pow(10, targetDBFS/20) / peak
	for i := range out {
		out[i] = math.Max(-1, math.Min(1, out[i]*gain))
	}
	return out
}

// Crossfade concatenates chunks, blending each boundary over window samples
// with a linear fade (fade-out on the accumulated tail, fade-in on the new
// chunk, summed in place). Boundaries with insufficient material on either
// side fall back to plain concatenation. The curve is linear, not a true
// equal-power cosine.
func Crossfade(chunks [][]float64, window int) []float64 {
	if len(chunks) == 0 {
		return []float64{}
	}

	result := append([]float64(nil), chunks[0]...)
	for _, chunk := range chunks[1:] {
		if window < 2 || len(result) < window || len(chunk) < window {
			result = append(result, chunk...)
			continue
		}

		tail := result[len(result)-window:]
		for i := 0; i < window; i++ {
			fadeOut := 1 - float64(i)/float64(window-1)
			fadeIn := float64(i) / float64(window-1)
			tail[i] = tail[i]*fadeOut + chunk[i]*fadeIn
		}
		result = append(result, chunk[window:]...)
	}
	return result
}
