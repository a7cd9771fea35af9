package testsupport

import (
	"path/filepath"
	"testing"

	"folio/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The API binds an ephemeral port and module preloading starts without delay.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ModulesDir = filepath.Join(base, "modules")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Modules.PreloadDelayMillis = 0
	cfgVal.Cache.Shell = []string{"/"}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithUpstream points the cache intermediary at url.
func WithUpstream(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.UpstreamURL = url
	}
}

// WithShell replaces the shell resources cached at install time.
func WithShell(resources ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Shell = append([]string(nil), resources...)
	}
}

// WithPreload sets the units pre-warmed at startup.
func WithPreload(units ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Modules.Preload = append([]string(nil), units...)
	}
}

// WithAPIToken requires a bearer token on /_folio routes.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
