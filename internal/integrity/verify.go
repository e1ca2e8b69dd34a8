package integrity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var referenceFiles = map[string]string{
	"raw":  "hash_raw.sha",
	"mel":  "hash_mel.sha",
	"mfcc": "hash_mfcc.sha",
}

// Match compares one hash type against its stored reference.
type Match struct {
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	OK       bool   `json:"matches"`
}

// Result is the outcome of one golden validation run.
type Result struct {
	Valid    bool             `json:"valid"`
	FirstRun bool             `json:"first_run"`
	Hashes   Hashes           `json:"hashes"`
	Matches  map[string]Match `json:"matches,omitempty"`
}

// Verify checks a buffer against the golden references stored in refDir.
// The first run for a fresh reference directory persists all available
// hashes and is unconditionally valid. Subsequent runs are valid iff the
// raw hash matches or both perceptual hashes match — the disjunction
// tolerates benign nondeterminism in raw sample generation while still
// catching perceptually real regressions.
func Verify(refDir string, samples []float64, sampleRate int) (Result, error) {
	current := ComputeHashes(samples, sampleRate)
	result := Result{Hashes: current}

	if err := os.MkdirAll(refDir, 0o755); err != nil {
		return result, fmt.Errorf("create reference dir: %w", err)
	}

	if !allReferencesExist(refDir) {
		result.FirstRun = true
		result.Valid = true
		for hashType, name := range referenceFiles {
			value := current.byType(hashType)
			if value == HashUnavailable {
				continue
			}
			path := filepath.Join(refDir, name)
			if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
				return result, fmt.Errorf("persist %s reference: %w", hashType, err)
			}
		}
		return result, nil
	}

	result.Matches = make(map[string]Match, len(referenceFiles))
	for hashType, name := range referenceFiles {
		data, err := os.ReadFile(filepath.Join(refDir, name))
		if err != nil {
			return result, fmt.Errorf("read %s reference: %w", hashType, err)
		}
		expected := strings.TrimSpace(string(data))
		actual := current.byType(hashType)
		result.Matches[hashType] = Match{
			Expected: expected,
			Actual:   actual,
			OK:       actual == expected,
		}
	}

	rawOK := result.Matches["raw"].OK
	perceptualOK := result.Matches["mel"].OK && result.Matches["mfcc"].OK
	result.Valid = rawOK || perceptualOK
	return result, nil
}

func (h Hashes) byType(hashType string) string {
	switch hashType {
	case "raw":
		return h.Raw
	case "mel":
		return h.Mel
	case "mfcc":
		return h.MFCC
	default:
		return HashUnavailable
	}
}

func allReferencesExist(refDir string) bool {
	for _, name := range referenceFiles {
		if _, err := os.Stat(filepath.Join(refDir, name)); err != nil {
			return false
		}
	}
	return true
}
