package audio

import (
	"fmt"
	"os"
	"path/filepath"
)

// rename is stubbed in tests to simulate a crash between temp write and
// publish.
var rename = os.Rename

// WriteResult describes a completed atomic write.
type WriteResult struct {
	Path       string   `json:"path"`
	FileSize   int64    `json:"file_size"`
	QC         QCReport `json:"qc"`
	Normalized bool     `json:"normalized"`
}

// WriteFileAtomic persists samples as a 16-bit PCM mono WAV such that path
// only ever holds the complete prior content or the complete new content,
// even if the process dies mid-write. The content is written to a sibling
// temp file, synced to stable storage, then renamed over path. On any
// failure the temp file is removed and path is left untouched.
//
// When normalize is set the buffer is peak-normalized to -1 dBFS first; the
// returned QC report describes the buffer as written.
func WriteFileAtomic(path string, samples []float64, sampleRate int, normalize bool) (WriteResult, error) {
	if normalize {
		samples = Normalize(samples, -1.0)
	}

	qc, err := QC(samples)
	if err != nil {
		return WriteResult{}, fmt.Errorf("refusing to persist: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return WriteResult{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error) (WriteResult, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return WriteResult{}, cause
	}

	if err := encodeWAV(tmp, samples, sampleRate); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, fmt.Errorf("publish %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return WriteResult{}, fmt.Errorf("stat written file: %w", err)
	}

	return WriteResult{
		Path:       path,
		FileSize:   info.Size(),
		QC:         qc,
		Normalized: normalize,
	}, nil
}
