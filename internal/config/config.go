// Package config loads the synthd service configuration: YAML file over
// defaults, then SYNTHD_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	MetricsSubject string   `yaml:"metrics_subject"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SynthesisConfig struct {
	OutputDir        string  `yaml:"output_dir"`
	DefaultVoice     string  `yaml:"default_voice"`
	MaxSeconds       float64 `yaml:"max_seconds"`
	CrossfadeSamples int     `yaml:"crossfade_samples"`
	GoldenDir        string  `yaml:"golden_dir"`
	RetryAfterSec    int     `yaml:"retry_after_sec"`
}

// ModelConfig describes one synthesis model profile. An empty snapshot
// path means the model needs no local weights (mock engine).
type ModelConfig struct {
	ID            string   `yaml:"id"`
	Profile       string   `yaml:"profile"`
	Device        string   `yaml:"device"`
	Engine        string   `yaml:"engine"`
	Command       string   `yaml:"command"`
	SnapshotPath  string   `yaml:"snapshot_path"`
	RequiredFiles []string `yaml:"required_files"`
	Capacity      int      `yaml:"capacity"`
	FrameRate     float64  `yaml:"frame_rate"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Journal     JournalConfig   `yaml:"journal"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Models      []ModelConfig   `yaml:"models"`
}

func Default() Config {
	return Config{
		ServiceName: "synthd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 5001,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			MetricsSubject: "synth.metrics.record",
		},
		Journal: JournalConfig{
			Path:          "./data/synthd-journal.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRecords:    100000,
		},
		Synthesis: SynthesisConfig{
			OutputDir:        "./out",
			DefaultVoice:     "./voices/default.wav",
			MaxSeconds:       30,
			CrossfadeSamples: 8,
			GoldenDir:        "./golden",
			RetryAfterSec:    10,
		},
		Models: []ModelConfig{
			{
				ID:        "1.5B",
				Profile:   "streaming",
				Device:    "cpu",
				Engine:    "mock",
				Capacity:  1,
				FrameRate: 7.5,
			},
			{
				ID:        "7B",
				Profile:   "offline",
				Device:    "mps",
				Engine:    "mock",
				FrameRate: 7.5,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "SYNTHD_SERVICE_NAME")
	overrideString(&cfg.Environment, "SYNTHD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SYNTHD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SYNTHD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SYNTHD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SYNTHD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SYNTHD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SYNTHD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "SYNTHD_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SYNTHD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SYNTHD_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SYNTHD_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SYNTHD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SYNTHD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SYNTHD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SYNTHD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SYNTHD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SYNTHD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.MetricsSubject, "SYNTHD_BUS_METRICS_SUBJECT")
	overrideString(&cfg.Journal.Path, "SYNTHD_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "SYNTHD_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "SYNTHD_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxRecords, "SYNTHD_JOURNAL_MAX_RECORDS")
	overrideBool(&cfg.Journal.VacuumOnStart, "SYNTHD_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.Synthesis.OutputDir, "SYNTHD_SYNTHESIS_OUTPUT_DIR")
	overrideString(&cfg.Synthesis.DefaultVoice, "SYNTHD_SYNTHESIS_DEFAULT_VOICE")
	overrideFloat(&cfg.Synthesis.MaxSeconds, "SYNTHD_SYNTHESIS_MAX_SECONDS")
	overrideInt(&cfg.Synthesis.CrossfadeSamples, "SYNTHD_SYNTHESIS_CROSSFADE_SAMPLES")
	overrideString(&cfg.Synthesis.GoldenDir, "SYNTHD_SYNTHESIS_GOLDEN_DIR")
	overrideInt(&cfg.Synthesis.RetryAfterSec, "SYNTHD_SYNTHESIS_RETRY_AFTER_SEC")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.MetricsSubject == "" {
			return errors.New("bus.metrics_subject must not be empty")
		}
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Journal.RetentionMode == "persistent" && cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Synthesis.OutputDir == "" {
		return errors.New("synthesis.output_dir must not be empty")
	}
	if cfg.Synthesis.MaxSeconds <= 0 {
		return errors.New("synthesis.max_seconds must be positive")
	}
	if cfg.Synthesis.CrossfadeSamples < 0 {
		return errors.New("synthesis.crossfade_samples must be >= 0")
	}
	if cfg.Synthesis.RetryAfterSec <= 0 {
		return errors.New("synthesis.retry_after_sec must be positive")
	}
	if len(cfg.Models) == 0 {
		return errors.New("models must not be empty")
	}
	profiles := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		if m.ID == "" {
			return errors.New("models[].id must not be empty")
		}
		switch m.Profile {
		case "streaming", "offline":
			// ok
		default:
			return fmt.Errorf("model %s: profile must be one of streaming|offline", m.ID)
		}
		if profiles[m.Profile] {
			return fmt.Errorf("model %s: duplicate profile %s", m.ID, m.Profile)
		}
		profiles[m.Profile] = true
		switch m.Engine {
		case "mock", "exec":
			// ok
		default:
			return fmt.Errorf("model %s: engine must be one of mock|exec", m.ID)
		}
		if m.Engine == "exec" && m.Command == "" {
			return fmt.Errorf("model %s: command must be set when engine=exec", m.ID)
		}
		if m.Capacity < 0 {
			return fmt.Errorf("model %s: capacity must be >= 0", m.ID)
		}
		if m.FrameRate <= 0 {
			return fmt.Errorf("model %s: frame_rate must be positive", m.ID)
		}
	}
	return nil
}
