package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"folio/internal/config"
	"folio/internal/deps"
)

const endpointTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckUpstream verifies that the origin serves the first shell resource.
func CheckUpstream(ctx context.Context, cfg *config.Config) Result {
	const name = "Upstream origin"

	base := strings.TrimRight(strings.TrimSpace(cfg.Cache.UpstreamURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	path := "/"
	if len(cfg.Cache.Shell) > 0 {
		path = cfg.Cache.Shell[0]
	}
	return CheckEndpoint(ctx, name, base+path)
}

// CheckEndpoint issues a GET against url and passes on any 2xx/3xx status.
func CheckEndpoint(ctx context.Context, name, url string) Result {
	url = strings.TrimSpace(url)
	if url == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, endpointTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	client := &http.Client{
		Timeout: endpointTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetworkError(err)}
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", url)}
	}
	return Result{Name: name, Detail: fmt.Sprintf("%s (status %d)", url, resp.StatusCode)}
}

// CheckWorkerCommand verifies that the configured worker binary resolves on PATH.
func CheckWorkerCommand(cfg *config.Config) Result {
	const name = "Worker command"

	statuses := deps.CheckBinaries([]deps.Requirement{deps.WorkerRequirement(cfg.Worker.Command)})
	if len(statuses) == 0 {
		return Result{Name: name, Detail: "command not configured"}
	}
	status := statuses[0]
	if !status.Available {
		return Result{Name: name, Detail: status.Detail}
	}
	return Result{Name: name, Passed: true, Detail: status.Path}
}

func summarizeNetworkError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (endpoint unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (endpoint unreachable)"
	}
	return err.Error()
}
