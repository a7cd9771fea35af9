package cachestore

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustKey(t *testing.T, method, raw string) Key {
	t.Helper()
	key, err := NewKey(method, raw)
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return key
}

func TestNewKeyNormalizes(t *testing.T) {
	cases := []struct {
		method, raw string
		want        Key
	}{
		{"get", "HTTP://Example.COM/Docs?page=2#top", Key{Method: "GET", URL: "http://example.com/Docs?page=2"}},
		{"", "/index.html", Key{Method: "GET", URL: "/index.html"}},
		{"post", "https://example.com", Key{Method: "POST", URL: "https://example.com/"}},
	}
	for _, tc := range cases {
		got, err := NewKey(tc.method, tc.raw)
		if err != nil {
			t.Fatalf("NewKey(%q, %q): %v", tc.method, tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("NewKey(%q, %q) = %+v, want %+v", tc.method, tc.raw, got, tc.want)
		}
	}
}

func TestPutMatchUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := mustKey(t, http.MethodGet, "/app.js")

	if _, err := store.Match(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	header := http.Header{"Content-Type": []string{"text/javascript"}}
	if err := store.Put(ctx, "folio-dynamic-v1", Entry{Key: key, Status: 200, Header: header, Body: []byte("v1")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "folio-dynamic-v1", Entry{Key: key, Status: 200, Header: header, Body: []byte("v2")}); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	entry, err := store.Match(ctx, key)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if string(entry.Body) != "v2" || entry.Status != 200 || entry.Generation != "folio-dynamic-v1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Header.Get("Content-Type") != "text/javascript" {
		t.Fatalf("header not preserved: %v", entry.Header)
	}
	count, err := store.Count(ctx, "folio-dynamic-v1")
	if err != nil || count != 1 {
		t.Fatalf("expected a single upserted entry, got %d (%v)", count, err)
	}
}

func TestMatchPrefersNewestAcrossGenerations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := mustKey(t, http.MethodGet, "/")
	base := time.Unix(1_700_000_000, 0)

	if err := store.Put(ctx, "folio-static-v1", Entry{Key: key, Status: 200, Body: []byte("shell"), StoredAt: base}); err != nil {
		t.Fatalf("Put static: %v", err)
	}
	if err := store.Put(ctx, "folio-dynamic-v1", Entry{Key: key, Status: 200, Body: []byte("fresh"), StoredAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("Put dynamic: %v", err)
	}

	entry, err := store.Match(ctx, key)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if string(entry.Body) != "fresh" {
		t.Fatalf("expected newest body, got %q", entry.Body)
	}
	static, err := store.MatchIn(ctx, "folio-static-v1", key)
	if err != nil || string(static.Body) != "shell" {
		t.Fatalf("MatchIn static = %+v, %v", static, err)
	}
	if _, err := store.MatchIn(ctx, "folio-static-v2", key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound in unknown generation, got %v", err)
	}
}

func TestDeleteGenerationRemovesEntries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := mustKey(t, http.MethodGet, "/logo.png")

	for _, gen := range []string{"folio-static-v1", "folio-dynamic-v1", "folio-static-v2"} {
		if err := store.EnsureGeneration(ctx, gen); err != nil {
			t.Fatalf("EnsureGeneration %s: %v", gen, err)
		}
	}
	if err := store.EnsureGeneration(ctx, "folio-static-v1"); err != nil {
		t.Fatalf("EnsureGeneration should be idempotent: %v", err)
	}
	if err := store.Put(ctx, "folio-dynamic-v1", Entry{Key: key, Status: 200, Body: []byte("png")}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	gens, err := store.Generations(ctx)
	if err != nil {
		t.Fatalf("Generations: %v", err)
	}
	if len(gens) != 3 {
		t.Fatalf("expected 3 generations, got %+v", gens)
	}
	for _, gen := range gens {
		if gen.Name == "folio-dynamic-v1" && (gen.Entries != 1 || gen.Bytes != 3) {
			t.Fatalf("unexpected dynamic summary %+v", gen)
		}
	}

	deleted, err := store.DeleteGeneration(ctx, "folio-dynamic-v1")
	if err != nil || !deleted {
		t.Fatalf("DeleteGeneration = %v, %v", deleted, err)
	}
	if _, err := store.Match(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("entry survived its generation: %v", err)
	}
	deleted, err = store.DeleteGeneration(ctx, "folio-dynamic-v1")
	if err != nil || deleted {
		t.Fatalf("second delete = %v, %v", deleted, err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	key := mustKey(t, http.MethodGet, "/manifest.json")
	if err := store.Put(context.Background(), "folio-static-v1", Entry{Key: key, Status: 200, Body: []byte("{}")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = store.Close()

	reopened, err := OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Match(context.Background(), key); err != nil {
		t.Fatalf("Match after reopen: %v", err)
	}
}

func TestOpenRefusesForeignLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := store.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	_ = store.Close()

	if _, err := OpenPath(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
