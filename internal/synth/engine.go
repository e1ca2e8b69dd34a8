package synth

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/cadenza-labs/synthd/internal/audio"
	"github.com/cadenza-labs/synthd/internal/golden"
)

// EngineRequest carries everything an engine needs to render one utterance.
type EngineRequest struct {
	Text      string
	Voice     []float64
	Seconds   float64
	FrameRate float64
}

// Sink receives audio frames as a streaming engine produces them.
type Sink interface {
	Put(frames ...[]float64)
	End()
}

// Engine renders audio for one request. Streaming runs push frames into
// sink and return nil buffers; offline runs (sink == nil) return the
// complete buffers instead.
type Engine interface {
	Generate(ctx context.Context, req EngineRequest, surface *golden.Surface, sink Sink) ([][]float64, error)
}

type mockEngine struct{}

// NewMockEngine returns an engine that renders a deterministic tone
// whose pitch is derived from the request text. Useful for development
// and for exercising the full request path without model weights.
func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Generate(ctx context.Context, req EngineRequest, _ *golden.Surface, sink Sink) ([][]float64, error) {
	frameRate := req.FrameRate
	if frameRate <= 0 {
		frameRate = 7.5
	}
	samplesPerFrame := int(float64(audio.SampleRate) / frameRate)
	frames := int(math.Round(req.Seconds * frameRate))
	if frames < 1 {
		frames = 1
	}

	h := fnv.New32a()
	h.Write([]byte(req.Text))
	freq := 180.0 + float64(h.Sum32()%240)

	if sink == nil {
		buf := make([]float64, frames*samplesPerFrame)
		fillTone(buf, freq, 0)
		return [][]float64{buf}, nil
	}

	offset := 0
	for i := 0; i < frames; i++ {
		select {
		case <-ctx.Done():
			sink.End()
			return nil, ctx.Err()
		default:
		}
		frame := make([]float64, samplesPerFrame)
		fillTone(frame, freq, offset)
		offset += samplesPerFrame
		sink.Put(frame)
	}
	sink.End()
	return nil, nil
}

// fillTone writes a phase-continuous sine so consecutive frames join
// without discontinuities.
func fillTone(dst []float64, freq float64, sampleOffset int) {
	for i := range dst {
		t := float64(sampleOffset+i) / float64(audio.SampleRate)
		dst[i] = 0.5 * math.Sin(2*math.Pi*freq*t)
	}
}
