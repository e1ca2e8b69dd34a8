package synth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoAudio reports an engine run that completed without producing any
// samples.
var ErrNoAudio = errors.New("engine produced no audio")

// UnavailableError reports a model whose weights are missing or incomplete.
type UnavailableError struct {
	ModelID string
	Missing []string
}

func (e *UnavailableError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("model %s unavailable", e.ModelID)
	}
	return fmt.Sprintf("model %s unavailable: missing %s", e.ModelID, strings.Join(e.Missing, ", "))
}

// InputError reports a request rejected before synthesis started.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return e.Reason }

func inputErrorf(format string, args ...any) error {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

// ContractError reports a control surface that drifted from its golden
// contract in a way that blocks synthesis.
type ContractError struct {
	Profile     string
	Fingerprint string
	Problems    []string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("control surface rejected for profile %s: %s", e.Profile, strings.Join(e.Problems, "; "))
}

// OverloadError reports an admission rejection on a saturated profile.
type OverloadError struct {
	Profile    string
	RetryAfter int
}

func (e *OverloadError) Error() string {
	return fmt.Sprintf("profile %s at capacity, retry after %ds", e.Profile, e.RetryAfter)
}
