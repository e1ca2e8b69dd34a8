package synth

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cadenza-labs/synthd/internal/config"
	"github.com/cadenza-labs/synthd/internal/golden"
)

// defaultSnapshotFiles are the weight artifacts a model snapshot must
// contain when the config does not name its own.
var defaultSnapshotFiles = []string{"config.json", "model.safetensors.index.json"}

// Model couples one configured profile with its engine.
type Model struct {
	cfg        config.ModelConfig
	engine     Engine
	engineKind string
}

func (m *Model) ID() string              { return m.cfg.ID }
func (m *Model) Profile() golden.Profile { return golden.Profile(m.cfg.Profile) }
func (m *Model) Device() string          { return m.cfg.Device }
func (m *Model) Capacity() int           { return m.cfg.Capacity }
func (m *Model) FrameRate() float64      { return m.cfg.FrameRate }
func (m *Model) Engine() Engine          { return m.engine }

// Transport names the delivery mode: "streaming" for chunked output,
// "offline" for a single buffer. It follows the profile, not the engine.
func (m *Model) Transport() string { return string(m.Profile()) }

// EngineKind names how the engine runs: "inproc" or "subprocess".
func (m *Model) EngineKind() string { return m.engineKind }

// Available reports whether the model snapshot holds every required
// artifact. Models without a snapshot path need no local weights.
func (m *Model) Available() (missing []string, ok bool) {
	if m.cfg.SnapshotPath == "" {
		return nil, true
	}
	required := m.cfg.RequiredFiles
	if len(required) == 0 {
		required = defaultSnapshotFiles
	}
	for _, name := range required {
		if _, err := os.Stat(filepath.Join(m.cfg.SnapshotPath, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing, len(missing) == 0
}

// Registry holds the configured models keyed by profile.
type Registry struct {
	byProfile map[golden.Profile]*Model
}

func NewRegistry(cfgs []config.ModelConfig) (*Registry, error) {
	r := &Registry{byProfile: make(map[golden.Profile]*Model, len(cfgs))}
	for _, mc := range cfgs {
		var (
			engine Engine
			kind   string
			err    error
		)
		switch mc.Engine {
		case "exec":
			engine, err = NewExecEngine(mc.Command)
			kind = "subprocess"
		default:
			engine = NewMockEngine()
			kind = "inproc"
		}
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", mc.ID, err)
		}
		r.byProfile[golden.Profile(mc.Profile)] = &Model{cfg: mc, engine: engine, engineKind: kind}
	}
	return r, nil
}

// ByProfile returns the model serving the given profile.
func (r *Registry) ByProfile(p golden.Profile) (*Model, bool) {
	m, ok := r.byProfile[p]
	return m, ok
}

// Models returns all registered models.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.byProfile))
	for _, m := range r.byProfile {
		out = append(out, m)
	}
	return out
}

// Capacities maps profile name to admission capacity, for gate setup.
func (r *Registry) Capacities() map[string]int {
	out := make(map[string]int, len(r.byProfile))
	for p, m := range r.byProfile {
		out[string(p)] = m.Capacity()
	}
	return out
}
