package testsupport

import (
	"testing"

	"folio/internal/cachestore"
	"folio/internal/config"
)

// MustOpenStore opens the configured cache store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *cachestore.Store {
	t.Helper()

	store, err := cachestore.Open(cfg)
	if err != nil {
		t.Fatalf("cachestore.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
