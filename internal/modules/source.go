package modules

import (
	"log/slog"
	"strings"

	"folio/internal/config"
)

// NewFetcher picks the unit source configured in cfg: modules.base_url when
// set, otherwise paths.modules_dir.
func NewFetcher(cfg *config.Config) Fetcher {
	if cfg == nil {
		return DirFetcher{}
	}
	if base := strings.TrimSpace(cfg.Modules.BaseURL); base != "" {
		return NewHTTPFetcher(base, cfg.PreloadTimeout()*3)
	}
	return DirFetcher{Dir: cfg.Paths.ModulesDir}
}

// NewLoaderFromConfig builds a Loader using the configured unit source and
// preload policy.
func NewLoaderFromConfig(cfg *config.Config, logger *slog.Logger, opts ...LoaderOption) *Loader {
	base := []LoaderOption{
		WithPreloadUnits(cfg.Modules.Preload...),
		WithPreloadTimeout(cfg.PreloadTimeout()),
		WithPreloadDelay(cfg.PreloadDelay()),
	}
	return NewLoader(NewFetcher(cfg), logger, append(base, opts...)...)
}
