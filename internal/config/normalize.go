package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCache()
	c.normalizeWorker()
	c.normalizeModules()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ModulesDir) == "" {
		c.Paths.ModulesDir = defaultModulesDir
	}
	if c.Paths.ModulesDir, err = expandPath(c.Paths.ModulesDir); err != nil {
		return fmt.Errorf("paths.modules_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("FOLIO_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeCache() {
	if value, ok := os.LookupEnv("FOLIO_UPSTREAM_URL"); ok && strings.TrimSpace(value) != "" {
		c.Cache.UpstreamURL = value
	}
	c.Cache.UpstreamURL = strings.TrimRight(strings.TrimSpace(c.Cache.UpstreamURL), "/")
	c.Cache.Prefix = strings.TrimSpace(c.Cache.Prefix)
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = defaultCachePrefix
	}
	c.Cache.Version = strings.TrimSpace(c.Cache.Version)
	c.Cache.APIPrefix = strings.TrimSpace(c.Cache.APIPrefix)
	if c.Cache.APIPrefix != "" && !strings.HasPrefix(c.Cache.APIPrefix, "/") {
		c.Cache.APIPrefix = "/" + c.Cache.APIPrefix
	}
	shell := make([]string, 0, len(c.Cache.Shell))
	seen := make(map[string]struct{}, len(c.Cache.Shell))
	for _, resource := range c.Cache.Shell {
		resource = strings.TrimSpace(resource)
		if resource == "" {
			continue
		}
		if !strings.HasPrefix(resource, "/") {
			resource = "/" + resource
		}
		if _, ok := seen[resource]; ok {
			continue
		}
		seen[resource] = struct{}{}
		shell = append(shell, resource)
	}
	c.Cache.Shell = shell
	if c.Cache.InstallTimeoutSeconds <= 0 {
		c.Cache.InstallTimeoutSeconds = defaultInstallTimeoutSeconds
	}
	if c.Cache.RevalidateTimeoutSeconds <= 0 {
		c.Cache.RevalidateTimeoutSeconds = defaultRevalidateTimeoutSeconds
	}
}

func (c *Config) normalizeWorker() {
	command := make([]string, 0, len(c.Worker.Command))
	for _, part := range c.Worker.Command {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			command = append(command, trimmed)
		}
	}
	c.Worker.Command = command
	if c.Worker.TaskTimeoutSeconds <= 0 {
		c.Worker.TaskTimeoutSeconds = defaultTaskTimeoutSeconds
	}
}

func (c *Config) normalizeModules() {
	c.Modules.BaseURL = strings.TrimRight(strings.TrimSpace(c.Modules.BaseURL), "/")
	units := make([]string, 0, len(c.Modules.Preload))
	for _, unit := range c.Modules.Preload {
		if trimmed := strings.ToLower(strings.TrimSpace(unit)); trimmed != "" {
			units = append(units, trimmed)
		}
	}
	c.Modules.Preload = units
	if c.Modules.PreloadTimeoutSeconds <= 0 {
		c.Modules.PreloadTimeoutSeconds = defaultPreloadTimeoutSeconds
	}
	if c.Modules.PreloadDelayMillis < 0 {
		c.Modules.PreloadDelayMillis = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
