package config

const (
	defaultDataDir                  = "~/.local/share/folio"
	defaultLogDir                   = "~/.local/share/folio/logs"
	defaultModulesDir               = "~/.local/share/folio/modules"
	defaultAPIBind                  = "127.0.0.1:7610"
	defaultUpstreamURL              = "http://127.0.0.1:5173"
	defaultCachePrefix              = "folio"
	defaultCacheVersion             = "v1"
	defaultAPIPrefix                = "/api/"
	defaultInstallTimeoutSeconds    = 30
	defaultRevalidateTimeoutSeconds = 15
	defaultDynamicWarnEntries       = 5000
	defaultTaskTimeoutSeconds       = 120
	defaultPreloadTimeoutSeconds    = 10
	defaultPreloadDelayMillis       = 2000
	defaultLogFormat                = "auto"
	defaultLogLevel                 = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			ModulesDir: defaultModulesDir,
			APIBind:    defaultAPIBind,
		},
		Cache: Cache{
			UpstreamURL:              defaultUpstreamURL,
			Prefix:                   defaultCachePrefix,
			Version:                  defaultCacheVersion,
			APIPrefix:                defaultAPIPrefix,
			Shell:                    []string{"/", "/index.html", "/manifest.json", "/favicon.ico"},
			InstallTimeoutSeconds:    defaultInstallTimeoutSeconds,
			RevalidateTimeoutSeconds: defaultRevalidateTimeoutSeconds,
			DynamicWarnEntries:       defaultDynamicWarnEntries,
		},
		Worker: Worker{
			TaskTimeoutSeconds: defaultTaskTimeoutSeconds,
		},
		Modules: Modules{
			Preload:               []string{"pdf-reader", "spreadsheet-reader", "zip-archiver"},
			PreloadTimeoutSeconds: defaultPreloadTimeoutSeconds,
			PreloadDelayMillis:    defaultPreloadDelayMillis,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
