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
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type PathsConfig struct {
	ModelsDir string `yaml:"models_dir"`
	OutputDir string `yaml:"output_dir"`
}

type SynthesisConfig struct {
	Mode             string  `yaml:"mode"` // mock, exec
	Command          string  `yaml:"command"`
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	ChunkBudgetChars int     `yaml:"chunk_budget_chars"`
	SilenceMS        int     `yaml:"silence_ms"`
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	MaxTextChars     int     `yaml:"max_text_chars"`
}

type DownloadConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Token          string `yaml:"token"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Paths       PathsConfig     `yaml:"paths"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Download    DownloadConfig  `yaml:"download"`
	History     HistoryConfig   `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "kanivox",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
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
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Paths: PathsConfig{
			ModelsDir: "./models",
			OutputDir: "./output",
		},
		Synthesis: SynthesisConfig{
			Mode:             "mock",
			SampleRate:       22050,
			Channels:         1,
			ChunkBudgetChars: 200,
			SilenceMS:        150,
			Temperature:      0.7,
			TopP:             0.9,
			MaxTextChars:     5000,
		},
		Download: DownloadConfig{
			Endpoint:       "https://huggingface.co",
			PollIntervalMS: 1000,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/kanivox-history.db",
			RetentionDays: 30,
			MaxEntries:    10000,
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
	overrideString(&cfg.RuntimeName, "KANIVOX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "KANIVOX_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "KANIVOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "KANIVOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "KANIVOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "KANIVOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "KANIVOX_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "KANIVOX_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "KANIVOX_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "KANIVOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "KANIVOX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "KANIVOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "KANIVOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "KANIVOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "KANIVOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "KANIVOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "KANIVOX_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Paths.ModelsDir, "KANIVOX_MODELS_DIR")
	overrideString(&cfg.Paths.OutputDir, "KANIVOX_OUTPUT_DIR")
	overrideString(&cfg.Synthesis.Mode, "KANIVOX_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Command, "KANIVOX_SYNTHESIS_COMMAND")
	overrideInt(&cfg.Synthesis.SampleRate, "KANIVOX_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "KANIVOX_SYNTHESIS_CHANNELS")
	overrideInt(&cfg.Synthesis.ChunkBudgetChars, "KANIVOX_SYNTHESIS_CHUNK_BUDGET_CHARS")
	overrideInt(&cfg.Synthesis.SilenceMS, "KANIVOX_SYNTHESIS_SILENCE_MS")
	overrideFloat(&cfg.Synthesis.Temperature, "KANIVOX_SYNTHESIS_TEMPERATURE")
	overrideFloat(&cfg.Synthesis.TopP, "KANIVOX_SYNTHESIS_TOP_P")
	overrideInt(&cfg.Synthesis.MaxTextChars, "KANIVOX_SYNTHESIS_MAX_TEXT_CHARS")
	overrideString(&cfg.Download.Endpoint, "KANIVOX_DOWNLOAD_ENDPOINT")
	overrideString(&cfg.Download.Token, "KANIVOX_DOWNLOAD_TOKEN")
	overrideInt(&cfg.Download.PollIntervalMS, "KANIVOX_DOWNLOAD_POLL_INTERVAL_MS")
	overrideBool(&cfg.History.Enabled, "KANIVOX_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "KANIVOX_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "KANIVOX_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "KANIVOX_HISTORY_MAX_ENTRIES")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
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
	}
	if cfg.Paths.ModelsDir == "" {
		return errors.New("paths.models_dir must not be empty")
	}
	if cfg.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must not be empty")
	}
	switch cfg.Synthesis.Mode {
	case "mock", "exec":
	default:
		return errors.New("synthesis.mode must be one of mock|exec")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.Channels <= 0 {
		return errors.New("synthesis.channels must be positive")
	}
	if cfg.Synthesis.ChunkBudgetChars <= 0 {
		return errors.New("synthesis.chunk_budget_chars must be positive")
	}
	if cfg.Synthesis.SilenceMS < 0 {
		return errors.New("synthesis.silence_ms must be >= 0")
	}
	if cfg.Synthesis.Temperature < 0.1 || cfg.Synthesis.Temperature > 2.0 {
		return errors.New("synthesis.temperature must be within [0.1, 2.0]")
	}
	if cfg.Synthesis.TopP < 0.1 || cfg.Synthesis.TopP > 1.0 {
		return errors.New("synthesis.top_p must be within [0.1, 1.0]")
	}
	if cfg.Synthesis.MaxTextChars <= 0 {
		return errors.New("synthesis.max_text_chars must be positive")
	}
	if cfg.Download.Endpoint == "" {
		return errors.New("download.endpoint must not be empty")
	}
	if cfg.Download.PollIntervalMS <= 0 {
		return errors.New("download.poll_interval_ms must be positive")
	}
	if cfg.History.Enabled && cfg.History.Path == "" {
		return errors.New("history.path must not be empty when history is enabled")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
