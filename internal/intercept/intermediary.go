package intercept

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"folio/internal/cachestore"
	"folio/internal/config"
	"folio/internal/logging"
	"folio/internal/metrics"
)

// CacheHeader reports how a response was produced: hit, miss, bypass or passthrough.
const CacheHeader = "X-Folio-Cache"

// Revalidation outcomes.
const (
	revalidateUpdated = "updated"
	revalidateSkipped = "skipped"
	revalidateFailed  = "failed"
)

// Store is the cache storage the intermediary needs.
type Store interface {
	EnsureGeneration(ctx context.Context, name string) error
	Generations(ctx context.Context) ([]cachestore.Generation, error)
	DeleteGeneration(ctx context.Context, name string) (bool, error)
	Put(ctx context.Context, generation string, entry cachestore.Entry) error
	Match(ctx context.Context, key cachestore.Key) (*cachestore.Entry, error)
	Count(ctx context.Context, generation string) (int, error)
}

// Options configures an Intermediary.
type Options struct {
	Upstream           string
	StaticGeneration   string
	DynamicGeneration  string
	APIPrefix          string
	Shell              []string
	InstallTimeout     time.Duration
	RevalidateTimeout  time.Duration
	DynamicWarnEntries int
	MaxStoredBody      int64
	Client             *http.Client
	Metrics            *metrics.Metrics
}

// OptionsFromConfig maps the cache section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config, m *metrics.Metrics) Options {
	return Options{
		Upstream:           cfg.Cache.UpstreamURL,
		StaticGeneration:   cfg.StaticGeneration(),
		DynamicGeneration:  cfg.DynamicGeneration(),
		APIPrefix:          cfg.Cache.APIPrefix,
		Shell:              append([]string(nil), cfg.Cache.Shell...),
		InstallTimeout:     cfg.InstallTimeout(),
		RevalidateTimeout:  cfg.RevalidateTimeout(),
		DynamicWarnEntries: cfg.Cache.DynamicWarnEntries,
		Metrics:            m,
	}
}

// Intermediary applies the caching policy to requests bound for the upstream origin.
type Intermediary struct {
	store    Store
	opts     Options
	upstream *url.URL
	client   *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics

	controlling atomic.Bool
	warned      atomic.Bool
	background  sync.WaitGroup
}

// New validates opts and returns an inactive Intermediary.
func New(store Store, opts Options, logger *slog.Logger) (*Intermediary, error) {
	if store == nil {
		return nil, errors.New("intercept: store required")
	}
	upstream, err := url.Parse(strings.TrimSpace(opts.Upstream))
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("intercept: invalid upstream %q", opts.Upstream)
	}
	if strings.TrimSpace(opts.StaticGeneration) == "" || strings.TrimSpace(opts.DynamicGeneration) == "" {
		return nil, errors.New("intercept: static and dynamic generation names required")
	}
	if opts.StaticGeneration == opts.DynamicGeneration {
		return nil, errors.New("intercept: static and dynamic generations must differ")
	}
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = 30 * time.Second
	}
	if opts.RevalidateTimeout <= 0 {
		opts.RevalidateTimeout = 15 * time.Second
	}
	if opts.MaxStoredBody <= 0 {
		opts.MaxStoredBody = maxStoredBody
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Intermediary{
		store:    store,
		opts:     opts,
		upstream: upstream,
		client:   client,
		logger:   logging.NewComponentLogger(logger, "intercept"),
		metrics:  opts.Metrics,
	}, nil
}

// Controlling reports whether Activate has run.
func (i *Intermediary) Controlling() bool {
	return i.controlling.Load()
}

// Generations returns the current static and dynamic generation names.
func (i *Intermediary) Generations() (static, dynamic string) {
	return i.opts.StaticGeneration, i.opts.DynamicGeneration
}

// Install fetches every shell resource and stores them in the static
// generation. If any resource fails, nothing is written.
func (i *Intermediary) Install(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, i.opts.InstallTimeout)
	defer cancel()

	type fetched struct {
		key    cachestore.Key
		status int
		header http.Header
		body   []byte
	}
	results := make([]fetched, len(i.opts.Shell))

	group, groupCtx := errgroup.WithContext(ctx)
	for idx, resource := range i.opts.Shell {
		group.Go(func() error {
			req, err := newGet(resource)
			if err != nil {
				return fmt.Errorf("shell resource %q: %w", resource, err)
			}
			key, err := cachestore.KeyForRequest(req)
			if err != nil {
				return err
			}
			status, header, body, err := i.fetchFull(groupCtx, req)
			if err != nil {
				return fmt.Errorf("shell resource %s: %w", resource, err)
			}
			if !isSuccess(status) {
				return fmt.Errorf("shell resource %s: upstream status %d", resource, status)
			}
			results[idx] = fetched{key: key, status: status, header: storableHeader(header), body: body}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		logging.ErrorWithContext(i.logger, "cache install failed", "cache_install_failed",
			logging.String(logging.FieldGeneration, i.opts.StaticGeneration),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify cache.upstream_url serves every cache.shell entry, then retry"))
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}

	if err := i.store.EnsureGeneration(ctx, i.opts.StaticGeneration); err != nil {
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}
	now := time.Now()
	for _, res := range results {
		entry := cachestore.Entry{Key: res.key, Status: res.status, Header: res.header, Body: res.body, StoredAt: now}
		if err := i.store.Put(ctx, i.opts.StaticGeneration, entry); err != nil {
			i.metrics.RecordWrite("static", "error")
			return fmt.Errorf("%w: %v", ErrInstall, err)
		}
		i.metrics.RecordWrite("static", "ok")
	}
	i.logger.Info("cache installed",
		logging.String(logging.FieldGeneration, i.opts.StaticGeneration),
		logging.Int("resources", len(results)))
	return nil
}

// Activate deletes every generation other than the current static and
// dynamic ones, returns the deleted names, and starts intercepting requests.
func (i *Intermediary) Activate(ctx context.Context) ([]string, error) {
	gens, err := i.store.Generations(ctx)
	if err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	var deleted []string
	for _, gen := range gens {
		if gen.Name == i.opts.StaticGeneration || gen.Name == i.opts.DynamicGeneration {
			continue
		}
		ok, err := i.store.DeleteGeneration(ctx, gen.Name)
		if err != nil {
			return deleted, fmt.Errorf("activate: %w", err)
		}
		if ok {
			deleted = append(deleted, gen.Name)
			i.logger.Info("deleted superseded cache generation",
				logging.String(logging.FieldGeneration, gen.Name),
				logging.Int("entries", gen.Entries))
		}
	}
	i.controlling.Store(true)
	i.logger.Info("cache intermediary active",
		logging.String("static", i.opts.StaticGeneration),
		logging.String("dynamic", i.opts.DynamicGeneration),
		logging.Int("deleted", len(deleted)))
	return deleted, nil
}

// Fetch applies the caching policy to r. The returned response body must be
// closed by the caller.
func (i *Intermediary) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	switch {
	case !i.controlling.Load():
		return i.passThrough(ctx, r, metrics.LookupPassthrough)
	case r.Method != http.MethodGet:
		return i.passThrough(ctx, r, metrics.LookupPassthrough)
	case i.isAPI(r.URL.Path):
		return i.passThrough(ctx, r, metrics.LookupBypass)
	}

	key, err := cachestore.KeyForRequest(r)
	if err != nil {
		return i.passThrough(ctx, r, metrics.LookupPassthrough)
	}

	entry, err := i.store.Match(ctx, key)
	switch {
	case err == nil:
		i.metrics.RecordLookup(metrics.LookupHit)
		i.revalidate(key, r)
		return entryResponse(r, entry), nil
	case !errors.Is(err, cachestore.ErrNotFound):
		i.logger.Debug("cache lookup failed; using network", logging.String("key", key.String()), logging.Error(err))
	}

	i.metrics.RecordLookup(metrics.LookupMiss)
	resp, err := i.forward(ctx, r, nil)
	if err != nil {
		return nil, err
	}
	if isSuccess(resp.StatusCode) {
		status, header := resp.StatusCode, resp.Header.Clone()
		resp.Body = &captureBody{
			ReadCloser: resp.Body,
			limit:      i.opts.MaxStoredBody,
			complete: func(body []byte) {
				i.storeAsync(key, status, header, body)
			},
			overflow: func() {
				i.logger.Debug("response too large to cache; served from network only",
					logging.String("key", key.String()),
					logging.Int("limit", int(i.opts.MaxStoredBody)))
			},
		}
	}
	resp.Header.Set(CacheHeader, metrics.LookupMiss)
	return resp, nil
}

// Wait blocks until background revalidations and cache writes finish.
func (i *Intermediary) Wait() {
	i.background.Wait()
}

func (i *Intermediary) isAPI(path string) bool {
	prefix := i.opts.APIPrefix
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(path, prefix) || path == strings.TrimRight(prefix, "/")
}

func (i *Intermediary) passThrough(ctx context.Context, r *http.Request, result string) (*http.Response, error) {
	i.metrics.RecordLookup(result)
	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
	}
	resp, err := i.forward(ctx, r, body)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(CacheHeader, result)
	return resp, nil
}

// revalidate refreshes key from the network on a detached, bounded context.
// Failures are logged and never reach the caller.
func (i *Intermediary) revalidate(key cachestore.Key, r *http.Request) {
	req := &http.Request{Method: http.MethodGet, URL: cloneURL(r.URL), Header: http.Header{}}
	for _, name := range []string{"Accept", "Accept-Language", "User-Agent"} {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	i.background.Add(1)
	go func() {
		defer i.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), i.opts.RevalidateTimeout)
		defer cancel()

		status, header, body, err := i.fetchFull(ctx, req)
		if err != nil {
			i.metrics.RecordRevalidation(revalidateFailed)
			i.logger.Debug("revalidation failed; keeping cached copy",
				logging.String("key", key.String()),
				logging.Error(err))
			return
		}
		if !isSuccess(status) {
			i.metrics.RecordRevalidation(revalidateSkipped)
			i.logger.Debug("revalidation returned non-success; keeping cached copy",
				logging.String("key", key.String()),
				logging.Int("status", status))
			return
		}
		if err := i.put(ctx, key, status, header, body); err != nil {
			i.metrics.RecordRevalidation(revalidateFailed)
			return
		}
		i.metrics.RecordRevalidation(revalidateUpdated)
	}()
}

func (i *Intermediary) storeAsync(key cachestore.Key, status int, header http.Header, body []byte) {
	i.background.Add(1)
	go func() {
		defer i.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), i.opts.RevalidateTimeout)
		defer cancel()
		_ = i.put(ctx, key, status, header, body)
	}()
}

func (i *Intermediary) put(ctx context.Context, key cachestore.Key, status int, header http.Header, body []byte) error {
	entry := cachestore.Entry{Key: key, Status: status, Header: storableHeader(header), Body: body}
	if err := i.store.Put(ctx, i.opts.DynamicGeneration, entry); err != nil {
		i.metrics.RecordWrite("dynamic", "error")
		logging.WarnWithContext(i.logger, "cache write failed", "cache_write_failed",
			logging.String(logging.FieldGeneration, i.opts.DynamicGeneration),
			logging.String("key", key.String()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next request for this resource goes to the network"))
		return err
	}
	i.metrics.RecordWrite("dynamic", "ok")
	i.checkGrowth(ctx)
	return nil
}

// checkGrowth warns once when the dynamic generation passes the configured size.
func (i *Intermediary) checkGrowth(ctx context.Context) {
	limit := i.opts.DynamicWarnEntries
	if limit <= 0 || i.warned.Load() {
		return
	}
	count, err := i.store.Count(ctx, i.opts.DynamicGeneration)
	if err != nil || count <= limit {
		return
	}
	if i.warned.CompareAndSwap(false, true) {
		logging.WarnWithContext(i.logger, "dynamic cache generation is large", "cache_dynamic_growth",
			logging.String(logging.FieldGeneration, i.opts.DynamicGeneration),
			logging.Int("entries", count),
			logging.Int("threshold", limit),
			logging.String(logging.FieldImpact, "entries are only reclaimed when a new version activates"),
			logging.String(logging.FieldErrorHint, "bump cache.version to start a fresh generation"))
	}
}

func entryResponse(r *http.Request, entry *cachestore.Entry) *http.Response {
	resp := bufferedResponse(r, entry.Status, entry.Header, entry.Body)
	resp.Header.Set(CacheHeader, metrics.LookupHit)
	return resp
}

func bufferedResponse(r *http.Request, status int, header http.Header, body []byte) *http.Response {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Del("Content-Length")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}

func cloneURL(u *url.URL) *url.URL {
	clone := *u
	if u.User != nil {
		user := *u.User
		clone.User = &user
	}
	return &clone
}
