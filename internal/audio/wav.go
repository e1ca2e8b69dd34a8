package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

const (
	bitDepth = 16

	minVoiceSeconds = 0.4
	maxVoiceSeconds = 30.0
	minVoiceRMS     = 1e-4
)

// encodeWAV writes samples as 16-bit PCM mono WAV to an open file.
func encodeWAV(f *os.File, samples []float64, sampleRate int) error {
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		v := math.Round(math.Max(-1, math.Min(1, s)) * 32767)
		buf.Data[i] = int(v)
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// DecodeFile reads a WAV file into float64 samples in [-1, 1], downmixing
// multi-channel input by averaging. It returns the source sample rate and
// channel count.
func DecodeFile(path string) ([]float64, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return nil, 0, 0, fmt.Errorf("decode wav: malformed format chunk")
	}

	channels := buf.Format.NumChannels
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = bitDepth
	}
	// Mirror the encoder's scale (32767 at 16 bits) so encode/decode
	// round trips are lossless.
	scale := float64(int(1)<<(depth-1)) - 1

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float64(channels)
	}
	return samples, buf.Format.SampleRate, channels, nil
}

// VoiceReport carries the measured attributes of a loaded voice reference.
type VoiceReport struct {
	DurationSec float64 `json:"duration_sec"`
	SourceRate  int     `json:"source_rate"`
	Channels    int     `json:"channels"`
	Peak        float64 `json:"peak"`
	RMS         float64 `json:"rms"`
	Resampled   bool    `json:"resampled"`
}

// LoadVoice reads a voice reference file and returns it as a peak-normalized
// 24 kHz mono buffer. Multi-channel input is downmixed and other sample rates
// are resampled. The report describes the audio before normalization.
func LoadVoice(path string) ([]float64, VoiceReport, error) {
	samples, rate, channels, err := DecodeFile(path)
	if err != nil {
		return nil, VoiceReport{}, err
	}

	report := VoiceReport{
		SourceRate: rate,
		Channels:   channels,
		Resampled:  rate != SampleRate,
	}
	if rate != SampleRate {
		samples, err = resampleTo24k(samples, rate)
		if err != nil {
			return nil, VoiceReport{}, err
		}
	}

	report.DurationSec = float64(len(samples)) / SampleRate
	var peak, sumSquares float64
	for _, s := range samples {
		if abs := math.Abs(s); abs > peak {
			peak = abs
		}
		sumSquares += s * s
	}
	if len(samples) > 0 {
		report.RMS = math.Sqrt(sumSquares / float64(len(samples)))
	}
	report.Peak = peak

	return Normalize(samples, -1.0), report, nil
}

// ValidateVoice rejects voice references that would destabilize synthesis:
// out-of-range duration or inadequate loudness.
func ValidateVoice(report VoiceReport) error {
	if report.DurationSec < minVoiceSeconds {
		return fmt.Errorf("voice too short: %.2fs (min %.1fs)", report.DurationSec, minVoiceSeconds)
	}
	if report.DurationSec > maxVoiceSeconds {
		return fmt.Errorf("voice too long: %.2fs (max %.0fs)", report.DurationSec, maxVoiceSeconds)
	}
	if report.RMS < minVoiceRMS {
		return fmt.Errorf("voice too quiet: rms %.2e (min %.0e)", report.RMS, minVoiceRMS)
	}
	return nil
}

func resampleTo24k(samples []float64, sourceRate int) ([]float64, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(sourceRate),
		OutputRate: float64(SampleRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	out, err := rs.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample %dHz to %dHz: %w", sourceRate, SampleRate, err)
	}
	return out, nil
}
