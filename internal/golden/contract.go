package golden

// Contract is the frozen parameter set for one profile. Required maps
// parameter names to their proven-stable values; a map[string]any value is
// a nested configuration checked one level deep. Hooks are required
// callables checked for presence only. PayloadAllow lists the
// data-carrying keys a surface may add without a drift warning.
type Contract struct {
	Profile      Profile
	Required     map[string]any
	Hooks        []string
	PayloadAllow []string
}

var contracts = map[Profile]Contract{
	ProfileStreaming: {
		Profile: ProfileStreaming,
		Required: map[string]any{
			"cfg_scale":        1.3,
			"refresh_negative": true,
			"verbose":          false,
		},
		Hooks: []string{"stop_check_fn"},
		PayloadAllow: []string{
			"text",
			"voice_samples",
			"tokenizer",
			"audio_streamer",
			"max_new_tokens",
		},
	},
	ProfileOffline: {
		Profile: ProfileOffline,
		Required: map[string]any{
			"cfg_scale":     1.2,
			"return_speech": true,
			"generation_config": map[string]any{
				"do_sample":   true,
				"temperature": 0.6,
			},
		},
		PayloadAllow: []string{
			"text",
			"voice_samples",
			"tokenizer",
			"max_new_tokens",
		},
	},
}

// DefaultSurface builds a surface pre-populated with the profile's golden
// control values and hooks. Callers add payload entries on top.
func DefaultSurface(profile Profile) *Surface {
	s := NewSurface()
	contract, ok := ContractFor(profile)
	if !ok {
		return s
	}
	for key, value := range contract.Required {
		if nested, ok := value.(map[string]any); ok {
			clone := make(map[string]any, len(nested))
			for k, v := range nested {
				clone[k] = v
			}
			s.Set(key, clone)
			continue
		}
		s.Set(key, value)
	}
	for _, hook := range contract.Hooks {
		s.SetHook(hook)
	}
	return s
}

// ContractFor returns the golden contract for a profile.
func ContractFor(profile Profile) (Contract, bool) {
	c, ok := contracts[profile]
	return c, ok
}

func (c Contract) allowsPayload(key string) bool {
	for _, k := range c.PayloadAllow {
		if k == key {
			return true
		}
	}
	return false
}

func (c Contract) requiresHook(key string) bool {
	for _, k := range c.Hooks {
		if k == key {
			return true
		}
	}
	return false
}
