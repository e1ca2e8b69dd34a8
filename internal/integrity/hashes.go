// Package integrity fingerprints synthesized audio and compares it against
// persisted golden references. Three independent hashes are computed over a
// peak-normalized buffer: a raw waveform hash and two perceptual hashes
// (mel spectrogram, MFCC). Rounding to a fixed precision before hashing
// absorbs floating-point noise between runs.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

const (
	// HashUnavailable marks a perceptual hash whose supporting transform
	// failed; it never fails the overall check.
	HashUnavailable = "unavailable"

	hashLen        = 16
	roundPrecision = 1e6
)

// Hashes holds the three fingerprints of one audio buffer.
type Hashes struct {
	Raw  string `json:"raw"`
	Mel  string `json:"mel"`
	MFCC string `json:"mfcc"`
}

// ComputeHashes fingerprints a mono buffer. The buffer is peak-normalized
// first so gain differences do not change identity.
func ComputeHashes(samples []float64, sampleRate int) Hashes {
	normalized := peakNormalize(samples)

	h := Hashes{
		Raw:  hashSeries(roundSeries(normalized)),
		Mel:  HashUnavailable,
		MFCC: HashUnavailable,
	}

	if mel, err := melSpectrogram(normalized, sampleRate); err == nil {
		h.Mel = hashSeries(roundSeries(normalizeByMax(flatten(mel))))
	}
	if cepstra, err := mfcc(normalized, sampleRate); err == nil {
		h.MFCC = hashSeries(roundSeries(normalizeByMaxAbs(flatten(cepstra))))
	}
	return h
}

func peakNormalize(samples []float64) []float64 {
	var peak float64
	for _, s := range samples {
		if abs := math.Abs(s); abs > peak {
			peak = abs
		}
	}
	out := make([]float64, len(samples))
	if peak == 0 {
		copy(out, samples)
		return out
	}
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

func flatten(rows [][]float64) []float64 {
	var n int
	for _, row := range rows {
		n += len(row)
	}
	out := make([]float64, 0, n)
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

func normalizeByMax(values []float64) []float64 {
	var max float64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / (max + 1e-12)
	}
	return out
}

func normalizeByMaxAbs(values []float64) []float64 {
	var max float64
	for _, v := range values {
		if abs := math.Abs(v); abs > max {
			max = abs
		}
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / (max + 1e-12)
	}
	return out
}

func roundSeries(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Round(v*roundPrecision) / roundPrecision
	}
	return out
}

func hashSeries(values []float64) string {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])[:hashLen]
}
