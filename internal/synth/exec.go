package synth

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"sync"

	"github.com/cadenza-labs/synthd/internal/audio"
	"github.com/cadenza-labs/synthd/internal/golden"
	"github.com/mattn/go-shellwords"
)

// execEngine drives an external synthesis process. The request goes to
// stdin as a single JSON document; the process answers with one JSON
// object per line carrying base64 16-bit PCM at 24 kHz mono.
type execEngine struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text       string         `json:"text"`
	VoiceB64   string         `json:"voice_pcm_base64"`
	SampleRate int            `json:"sample_rate"`
	Seconds    float64        `json:"seconds"`
	FrameRate  float64        `json:"frame_rate"`
	Controls   map[string]any `json:"controls"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecEngine(command string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execEngine{cmd: args}, nil
}

func (e *execEngine) Generate(ctx context.Context, req EngineRequest, surface *golden.Surface, sink Sink) ([][]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sink != nil {
		defer sink.End()
	}

	payload := execRequest{
		Text:       req.Text,
		VoiceB64:   base64.StdEncoding.EncodeToString(encodePCM16(req.Voice)),
		SampleRate: audio.SampleRate,
		Seconds:    req.Seconds,
		FrameRate:  req.FrameRate,
	}
	if surface != nil {
		payload.Controls = surface.Controls()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if _, err := stdin.Write(data); err != nil {
		cmd.Wait()
		return nil, err
	}
	stdin.Close()

	var buffers [][]float64
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("decode engine response: %w", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("decode engine pcm: %w", err)
		}
		frame := decodePCM16(pcm)
		if sink != nil {
			sink.Put(frame)
		} else if len(frame) > 0 {
			buffers = append(buffers, frame)
		}
		if resp.Final {
			break
		}
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("engine process: %w", err)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buffers, nil
}

func encodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(math.Round(math.Max(-1, math.Min(1, s)) * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func decodePCM16(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		// Same scale as encodePCM16 so a round trip is lossless.
		out[i] = float64(v) / 32767
	}
	return out
}
