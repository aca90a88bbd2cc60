package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.HTTP.Port)
	}
	if cfg.Synthesis.SampleRate != 22050 {
		t.Fatalf("expected default sample rate 22050, got %d", cfg.Synthesis.SampleRate)
	}
	if cfg.Synthesis.ChunkBudgetChars != 200 || cfg.Synthesis.SilenceMS != 150 {
		t.Fatalf("unexpected chunking defaults: %+v", cfg.Synthesis)
	}
	if cfg.Download.Endpoint != "https://huggingface.co" {
		t.Fatalf("unexpected hub endpoint: %s", cfg.Download.Endpoint)
	}
	if cfg.Bus.Enabled {
		t.Fatal("bus must default to disabled")
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kanivox.yaml")
	data := []byte(`
http:
  port: 9000
paths:
  models_dir: /srv/kanivox/models
synthesis:
  mode: exec
  command: "kani-runtime --quantized"
  sample_rate: 24000
download:
  poll_interval_ms: 250
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if cfg.Paths.ModelsDir != "/srv/kanivox/models" {
		t.Fatalf("expected models dir override, got %s", cfg.Paths.ModelsDir)
	}
	if cfg.Synthesis.Mode != "exec" || cfg.Synthesis.Command == "" {
		t.Fatalf("expected exec synthesis config, got %+v", cfg.Synthesis)
	}
	if cfg.Synthesis.SampleRate != 24000 {
		t.Fatalf("expected sample rate override, got %d", cfg.Synthesis.SampleRate)
	}
	if cfg.Download.PollIntervalMS != 250 {
		t.Fatalf("expected poll interval override, got %d", cfg.Download.PollIntervalMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KANIVOX_HTTP_PORT", "8181")
	t.Setenv("KANIVOX_MODELS_DIR", "./tmp-models")
	t.Setenv("KANIVOX_OUTPUT_DIR", "./tmp-output")
	t.Setenv("KANIVOX_SYNTHESIS_TEMPERATURE", "1.2")
	t.Setenv("KANIVOX_SYNTHESIS_TOP_P", "0.5")
	t.Setenv("KANIVOX_DOWNLOAD_ENDPOINT", "http://hub.local")
	t.Setenv("KANIVOX_DOWNLOAD_TOKEN", "hf_test")
	t.Setenv("KANIVOX_HISTORY_ENABLED", "false")
	t.Setenv("KANIVOX_BUS_ENABLED", "true")
	t.Setenv("KANIVOX_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8181 {
		t.Fatalf("expected port 8181, got %d", cfg.HTTP.Port)
	}
	if cfg.Paths.ModelsDir != "./tmp-models" || cfg.Paths.OutputDir != "./tmp-output" {
		t.Fatalf("expected path overrides, got %+v", cfg.Paths)
	}
	if cfg.Synthesis.Temperature != 1.2 || cfg.Synthesis.TopP != 0.5 {
		t.Fatalf("expected sampling overrides, got %+v", cfg.Synthesis)
	}
	if cfg.Download.Endpoint != "http://hub.local" || cfg.Download.Token != "hf_test" {
		t.Fatalf("expected download overrides, got %+v", cfg.Download)
	}
	if cfg.History.Enabled {
		t.Fatal("expected history disabled")
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
		{"bad synthesis mode", func(c *Config) { c.Synthesis.Mode = "grpc" }},
		{"exec without command", func(c *Config) { c.Synthesis.Mode = "exec"; c.Synthesis.Command = "" }},
		{"bad sample rate", func(c *Config) { c.Synthesis.SampleRate = 0 }},
		{"temperature out of range", func(c *Config) { c.Synthesis.Temperature = 3.5 }},
		{"top_p out of range", func(c *Config) { c.Synthesis.TopP = 0.01 }},
		{"empty endpoint", func(c *Config) { c.Download.Endpoint = "" }},
		{"bad poll interval", func(c *Config) { c.Download.PollIntervalMS = 0 }},
		{"empty models dir", func(c *Config) { c.Paths.ModelsDir = "" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
