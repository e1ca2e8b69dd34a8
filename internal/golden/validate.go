package golden

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

const fingerprintLen = 8

// Verdict is the outcome of validating a surface against its golden
// contract. Errors mean the contract is structurally broken and the
// invocation would crash the engine; warnings record drift from the
// proven-stable operating point but never block execution.
type Verdict struct {
	Valid       bool     `json:"valid"`
	Fingerprint string   `json:"control_hash"`
	Warnings    []string `json:"warnings"`
	Errors      []string `json:"errors"`
}

// Validate checks a surface against the profile's golden contract.
func Validate(profile Profile, s *Surface) Verdict {
	v := Verdict{Fingerprint: Fingerprint(s)}

	contract, ok := ContractFor(profile)
	if !ok {
		v.Errors = append(v.Errors, fmt.Sprintf("unknown profile: %s", profile))
		return v
	}

	for _, hook := range contract.Hooks {
		if !s.HasHook(hook) {
			v.Errors = append(v.Errors, fmt.Sprintf("missing required parameter: %s", hook))
		}
	}

	for _, key := range sortedKeys(contract.Required) {
		expected := contract.Required[key]
		actual, present := s.Control(key)
		if !present {
			v.Errors = append(v.Errors, fmt.Sprintf("missing required parameter: %s", key))
			continue
		}

		if expectedMap, ok := expected.(map[string]any); ok {
			actualMap, ok := actual.(map[string]any)
			if !ok {
				v.Errors = append(v.Errors, fmt.Sprintf("%s must be a nested config, got %T", key, actual))
				continue
			}
			for _, sub := range sortedKeys(expectedMap) {
				want := expectedMap[sub]
				got, present := actualMap[sub]
				if !present {
					v.Warnings = append(v.Warnings, fmt.Sprintf("missing %s.%s", key, sub))
				} else if !reflect.DeepEqual(got, want) {
					v.Warnings = append(v.Warnings, fmt.Sprintf("%s.%s: expected %v, got %v", key, sub, want, got))
				}
			}
			continue
		}

		if !reflect.DeepEqual(actual, expected) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("%s: expected %v, got %v", key, expected, actual))
		}
	}

	for _, key := range s.controlKeys() {
		if _, required := contract.Required[key]; required {
			continue
		}
		if contract.requiresHook(key) || contract.allowsPayload(key) {
			continue
		}
		v.Warnings = append(v.Warnings, fmt.Sprintf("unexpected parameter: %s", key))
	}
	for _, key := range s.payloadKeys() {
		if !contract.allowsPayload(key) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("unexpected parameter: %s", key))
		}
	}

	v.Valid = len(v.Errors) == 0
	return v
}

// Fingerprint computes the stable identity of a surface's effective
// content: payload entries are excluded, hooks are canonicalized to the
// literal "callable", nested configs are serialized with sorted keys. Two
// surfaces with value-equal non-payload entries fingerprint identically
// regardless of insertion order.
func Fingerprint(s *Surface) string {
	canonical := make(map[string]string, len(s.controls)+len(s.hooks))
	for key, value := range s.controls {
		if nested, ok := value.(map[string]any); ok {
			// json.Marshal sorts map keys.
			b, err := json.Marshal(nested)
			if err != nil {
				canonical[key] = fmt.Sprintf("%v", nested)
				continue
			}
			canonical[key] = string(b)
			continue
		}
		canonical[key] = fmt.Sprintf("%v", value)
	}
	for key := range s.hooks {
		canonical[key] = "callable"
	}

	serialized, err := json.Marshal(canonical)
	if err != nil {
		serialized = []byte(fmt.Sprintf("%v", canonical))
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Validation output order must be deterministic for logs and tests.
	sort.Strings(keys)
	return keys
}
