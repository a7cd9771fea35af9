package modules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxModuleBytes caps a single unit so a misconfigured source cannot exhaust memory.
const maxModuleBytes = 64 << 20

// ErrNotFound reports a unit the fetcher does not know about.
var ErrNotFound = errors.New("module not found")

// Fetcher acquires the raw source of a unit.
type Fetcher interface {
	Fetch(ctx context.Context, unit string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, unit string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, unit string) ([]byte, error) {
	return f(ctx, unit)
}

// DirFetcher reads units from files in a local directory. A unit resolves to
// "<dir>/<unit>.js" or, failing that, "<dir>/<unit>".
type DirFetcher struct {
	Dir string
}

func (f DirFetcher) Fetch(ctx context.Context, unit string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.Dir) == "" {
		return nil, errors.New("modules directory not configured")
	}
	for _, candidate := range []string{unit + ".js", unit} {
		path := filepath.Join(f.Dir, candidate)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if info.Size() > maxModuleBytes {
			return nil, fmt.Errorf("%s exceeds %d bytes", path, maxModuleBytes)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w in %s", ErrNotFound, f.Dir)
}

// HTTPFetcher downloads units from "<BaseURL>/<unit>.js".
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher with a bounded client.
func NewHTTPFetcher(baseURL string, timeout time.Duration) HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (f HTTPFetcher) Fetch(ctx context.Context, unit string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := fmt.Sprintf("%s/%s.js", f.BaseURL, unit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w at %s", ErrNotFound, url)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModuleBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(data) > maxModuleBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", url, maxModuleBytes)
	}
	return data, nil
}
