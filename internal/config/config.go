package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	ModulesDir string `toml:"modules_dir"`
	APIBind    string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on /_folio routes.
	APIToken string `toml:"api_token"`
}

// Cache contains configuration for the caching intermediary.
type Cache struct {
	// UpstreamURL is the origin that serves the front end and its API.
	UpstreamURL string `toml:"upstream_url"`
	// Prefix and Version compose generation names: <prefix>-static-<version>.
	Prefix  string `toml:"prefix"`
	Version string `toml:"version"`
	// APIPrefix marks request paths that always go to the network.
	APIPrefix string `toml:"api_prefix"`
	// Shell lists the application shell resources cached at install time.
	Shell                    []string `toml:"shell"`
	InstallTimeoutSeconds    int      `toml:"install_timeout_seconds"`
	RevalidateTimeoutSeconds int      `toml:"revalidate_timeout_seconds"`
	// DynamicWarnEntries logs a warning once the dynamic generation grows past
	// this many entries. Zero disables the warning. Entries are never evicted.
	DynamicWarnEntries int `toml:"dynamic_warn_entries"`
}

// Worker contains configuration for the background execution unit.
type Worker struct {
	// Command runs the unit as a child process. Empty runs it in-process.
	Command            []string `toml:"command"`
	TaskTimeoutSeconds int      `toml:"task_timeout_seconds"`
}

// Modules contains configuration for on-demand module acquisition.
type Modules struct {
	// BaseURL fetches modules over HTTP. Empty reads them from paths.modules_dir.
	BaseURL               string   `toml:"base_url"`
	Preload               []string `toml:"preload"`
	PreloadTimeoutSeconds int      `toml:"preload_timeout_seconds"`
	PreloadDelayMillis    int      `toml:"preload_delay_millis"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for folio.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and module directories plus the HTTP bind address
//   - Cache: upstream origin, generation naming, shell resources, timeouts
//   - Worker: background unit command and task timeout
//   - Modules: module source and preload policy
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Cache   Cache   `toml:"cache"`
	Worker  Worker  `toml:"worker"`
	Modules Modules `toml:"modules"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/folio/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("folio.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The modules directory is created on a best-effort basis because it is only
// read when modules are not served over HTTP.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.ModulesDir) != "" {
		_ = os.MkdirAll(c.Paths.ModulesDir, 0o755)
	}
	return nil
}

// CacheDBPath returns the location of the cache store database.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.Paths.DataDir, "cache.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "foliod.lock")
}

// PIDPath returns the file recording the running daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "foliod.pid")
}

// SocketPath returns the daemon IPC socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "folio.sock")
}

// StaticGeneration returns the name of the application shell generation.
func (c *Config) StaticGeneration() string {
	return fmt.Sprintf("%s-static-%s", c.Cache.Prefix, c.Cache.Version)
}

// DynamicGeneration returns the name of the runtime-fetched resource generation.
func (c *Config) DynamicGeneration() string {
	return fmt.Sprintf("%s-dynamic-%s", c.Cache.Prefix, c.Cache.Version)
}

// TaskTimeout returns the bounded wait applied to every task.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Worker.TaskTimeoutSeconds) * time.Second
}

// RevalidateTimeout bounds background refresh fetches.
func (c *Config) RevalidateTimeout() time.Duration {
	return time.Duration(c.Cache.RevalidateTimeoutSeconds) * time.Second
}

// InstallTimeout bounds the shell pre-population step.
func (c *Config) InstallTimeout() time.Duration {
	return time.Duration(c.Cache.InstallTimeoutSeconds) * time.Second
}

// PreloadTimeout bounds the idle-time module pre-warm.
func (c *Config) PreloadTimeout() time.Duration {
	return time.Duration(c.Modules.PreloadTimeoutSeconds) * time.Second
}

// PreloadDelay is how long the daemon waits after start before pre-warming modules.
func (c *Config) PreloadDelay() time.Duration {
	return time.Duration(c.Modules.PreloadDelayMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
