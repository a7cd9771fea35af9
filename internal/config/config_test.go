package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"folio/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "folio")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7610" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.StaticGeneration() != "folio-static-v1" {
		t.Fatalf("unexpected static generation: %q", cfg.StaticGeneration())
	}
	if cfg.DynamicGeneration() != "folio-dynamic-v1" {
		t.Fatalf("unexpected dynamic generation: %q", cfg.DynamicGeneration())
	}
	if cfg.TaskTimeout() != 120*time.Second {
		t.Fatalf("unexpected task timeout: %s", cfg.TaskTimeout())
	}
	if len(cfg.Worker.Command) != 0 {
		t.Fatalf("expected in-process worker by default, got %v", cfg.Worker.Command)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist", dir)
		}
	}
}

func TestLoadCustomConfigNormalizesValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfgPath := filepath.Join(t.TempDir(), "folio.toml")
	custom := `
[paths]
data_dir = "~/folio-data"

[cache]
upstream_url = "https://docs.example.com/"
version = "v7"
api_prefix = "backend/"
shell = ["index.html", "/", "/index.html", " "]

[worker]
command = ["folio", " worker ", ""]

[modules]
preload = [" PDF-Reader ", ""]

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(cfgPath, []byte(custom), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != cfgPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "folio-data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Cache.UpstreamURL != "https://docs.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Cache.UpstreamURL)
	}
	if cfg.Cache.APIPrefix != "/backend/" {
		t.Fatalf("expected api prefix rooted, got %q", cfg.Cache.APIPrefix)
	}
	if got := strings.Join(cfg.Cache.Shell, ","); got != "/index.html,/" {
		t.Fatalf("unexpected shell list: %q", got)
	}
	if got := strings.Join(cfg.Worker.Command, " "); got != "folio worker" {
		t.Fatalf("unexpected worker command: %q", got)
	}
	if len(cfg.Modules.Preload) != 1 || cfg.Modules.Preload[0] != "pdf-reader" {
		t.Fatalf("unexpected preload list: %v", cfg.Modules.Preload)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.StaticGeneration() != "folio-static-v7" {
		t.Fatalf("unexpected static generation: %q", cfg.StaticGeneration())
	}
}

func TestLoadUpstreamFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FOLIO_UPSTREAM_URL", "http://frontend.internal:8080/")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Cache.UpstreamURL != "http://frontend.internal:8080" {
		t.Fatalf("expected upstream from env, got %q", cfg.Cache.UpstreamURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing version", func(c *config.Config) { c.Cache.Version = "" }, "cache.version"},
		{"bad version", func(c *config.Config) { c.Cache.Version = "V 2" }, "cache.version"},
		{"relative upstream", func(c *config.Config) { c.Cache.UpstreamURL = "frontend" }, "cache.upstream_url"},
		{"ftp upstream", func(c *config.Config) { c.Cache.UpstreamURL = "ftp://host" }, "scheme"},
		{"root api prefix", func(c *config.Config) { c.Cache.APIPrefix = "/" }, "cache.api_prefix"},
		{"shell under api", func(c *config.Config) { c.Cache.Shell = []string{"/api/boot"} }, "cache.shell"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad module url", func(c *config.Config) { c.Modules.BaseURL = "modules" }, "modules.base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfgPath := filepath.Join(t.TempDir(), "folio.toml")
	if err := os.WriteFile(cfgPath, []byte("[cache]\nversoin = \"v2\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(cfgPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if decoded.Cache.Version != "v1" {
		t.Fatalf("unexpected sample version: %q", decoded.Cache.Version)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
}
