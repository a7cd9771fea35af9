package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"folio/internal/config"
)

// WriteModule places a unit source file in the configured modules directory.
func WriteModule(t testing.TB, cfg *config.Config, unit, source string) string {
	t.Helper()

	path := filepath.Join(cfg.Paths.ModulesDir, unit+".js")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
