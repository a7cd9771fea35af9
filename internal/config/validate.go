package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var generationToken = regexp.MustCompile(`^[a-z0-9][a-z0-9._]*$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateModules(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.UpstreamURL == "" {
		return errors.New("cache.upstream_url must be set (or FOLIO_UPSTREAM_URL)")
	}
	parsed, err := url.Parse(c.Cache.UpstreamURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("cache.upstream_url %q must be an absolute http(s) URL", c.Cache.UpstreamURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("cache.upstream_url scheme %q is not supported", parsed.Scheme)
	}
	if !generationToken.MatchString(c.Cache.Prefix) {
		return fmt.Errorf("cache.prefix %q must be lowercase alphanumeric", c.Cache.Prefix)
	}
	// Without a version marker a new deployment cannot tell its generations apart from the last one.
	if c.Cache.Version == "" {
		return errors.New("cache.version must be set")
	}
	if !generationToken.MatchString(c.Cache.Version) {
		return fmt.Errorf("cache.version %q must be lowercase alphanumeric", c.Cache.Version)
	}
	if c.Cache.APIPrefix == "/" {
		return errors.New("cache.api_prefix must not be the root path")
	}
	for _, resource := range c.Cache.Shell {
		if strings.HasPrefix(resource, c.Cache.APIPrefix) && c.Cache.APIPrefix != "" {
			return fmt.Errorf("cache.shell resource %q is under cache.api_prefix and would never be served", resource)
		}
	}
	if c.Cache.DynamicWarnEntries < 0 {
		return errors.New("cache.dynamic_warn_entries must be zero or positive")
	}
	return nil
}

func (c *Config) validateModules() error {
	if c.Modules.BaseURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Modules.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("modules.base_url %q must be an absolute URL", c.Modules.BaseURL)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be one of auto, console, json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
