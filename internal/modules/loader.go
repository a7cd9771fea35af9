package modules

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"folio/internal/logging"
)

// Load outcomes reported to the observer. A fetch is reported once as
// fetched or failed; callers that joined it report shared.
const (
	OutcomeFetched  = "fetched"
	OutcomeMemoized = "memoized"
	OutcomeShared   = "shared"
	OutcomeFailed   = "failed"
)

// LoaderOption configures optional Loader behavior.
type LoaderOption func(*Loader)

// WithObserver registers a callback invoked after every Load with the unit and its outcome.
func WithObserver(fn func(unit, outcome string)) LoaderOption {
	return func(l *Loader) {
		l.observe = fn
	}
}

// WithPreloadUnits sets the units pre-warmed by Preload.
func WithPreloadUnits(units ...string) LoaderOption {
	return func(l *Loader) {
		l.preload = append([]string(nil), units...)
	}
}

// WithFetchTimeout bounds a single acquisition shared by concurrent callers.
func WithFetchTimeout(timeout time.Duration) LoaderOption {
	return func(l *Loader) {
		if timeout > 0 {
			l.fetchTimeout = timeout
		}
	}
}

// WithPreloadTimeout bounds a single Preload pass.
func WithPreloadTimeout(timeout time.Duration) LoaderOption {
	return func(l *Loader) {
		l.preloadTimeout = timeout
	}
}

// WithPreloadDelay defers Preload until the host has had time to settle.
func WithPreloadDelay(delay time.Duration) LoaderOption {
	return func(l *Loader) {
		l.preloadDelay = delay
	}
}

// Loader resolves named units and memoizes them for the process lifetime.
type Loader struct {
	fetcher Fetcher
	logger  *slog.Logger
	observe func(unit, outcome string)
	now     func() time.Time

	fetchTimeout   time.Duration
	preload        []string
	preloadTimeout time.Duration
	preloadDelay   time.Duration

	mu       sync.RWMutex
	resolved map[string]*Module
	group    singleflight.Group
	wg       sync.WaitGroup
}

// NewLoader constructs a Loader backed by fetcher.
func NewLoader(fetcher Fetcher, logger *slog.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		fetcher:        fetcher,
		logger:         logging.NewComponentLogger(logger, "modules"),
		now:            time.Now,
		fetchTimeout:   time.Minute,
		preloadTimeout: 10 * time.Second,
		resolved:       make(map[string]*Module),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves unit, returning the memoized Module when it was already
// resolved. Concurrent first loads of one unit share a single fetch.
func (l *Loader) Load(ctx context.Context, unit string) (*Module, error) {
	name, err := NormalizeUnit(unit)
	if err != nil {
		return nil, &LoadError{Unit: unit, Cause: err}
	}

	if mod, ok := l.lookup(name); ok {
		l.report(name, OutcomeMemoized)
		return mod, nil
	}

	var ran, fetched bool
	ch := l.group.DoChan(name, func() (any, error) {
		ran = true
		if mod, ok := l.lookup(name); ok {
			return mod, nil
		}
		fetched = true
		// Detached from the first caller so one canceled caller does not fail the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.fetchTimeout)
		defer cancel()
		source, err := l.fetcher.Fetch(fetchCtx, name)
		if err != nil {
			l.report(name, OutcomeFailed)
			return nil, err
		}
		mod := newModule(name, source, l.now())
		l.mu.Lock()
		l.resolved[name] = mod
		l.mu.Unlock()
		l.report(name, OutcomeFetched)
		l.logger.Info("module resolved",
			logging.String(logging.FieldModule, name),
			logging.Int("bytes", mod.Size),
			logging.String("digest", mod.Digest))
		return mod, nil
	})

	select {
	case <-ctx.Done():
		return nil, &LoadError{Unit: name, Cause: ctx.Err()}
	case res := <-ch:
		switch {
		case !ran:
			l.report(name, OutcomeShared)
		case !fetched:
			l.report(name, OutcomeMemoized)
		}
		if res.Err != nil {
			return nil, &LoadError{Unit: name, Cause: res.Err}
		}
		return res.Val.(*Module), nil
	}
}

// Loaded returns the names of resolved units in sorted order.
func (l *Loader) Loaded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.resolved))
	for name := range l.resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preload schedules acquisition of the configured common units on a
// background goroutine and returns immediately. Failures are logged only.
func (l *Loader) Preload(ctx context.Context) {
	units := append([]string(nil), l.preload...)
	if len(units) == 0 {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if l.preloadDelay > 0 {
			timer := time.NewTimer(l.preloadDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		l.preloadUnits(ctx, units)
	}()
}

func (l *Loader) preloadUnits(ctx context.Context, units []string) {
	ctx, cancel := context.WithTimeout(ctx, l.preloadTimeout)
	defer cancel()

	started := l.now()
	var failed int
	for _, unit := range units {
		if ctx.Err() != nil {
			break
		}
		if _, err := l.Load(ctx, unit); err != nil {
			failed++
			impact := "first task that needs this module will fetch it on demand"
			if errors.Is(err, context.DeadlineExceeded) {
				impact = "preload window elapsed; remaining modules load on demand"
			}
			logging.WarnWithContext(l.logger, "module preload failed", "module_preload_failed",
				logging.String(logging.FieldModule, unit),
				logging.Error(err),
				logging.String(logging.FieldImpact, impact),
				logging.String(logging.FieldErrorHint, "check modules.base_url or paths.modules_dir"))
		}
	}
	l.logger.Debug("module preload finished",
		logging.Int("requested", len(units)),
		logging.Int("failed", failed),
		logging.Duration("elapsed", l.now().Sub(started)))
}

// Wait blocks until in-flight preloads have finished.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) lookup(name string) (*Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mod, ok := l.resolved[name]
	return mod, ok
}

func (l *Loader) report(unit, outcome string) {
	if l.observe != nil {
		l.observe(unit, outcome)
	}
}
