package modules_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"folio/internal/logging"
	"folio/internal/modules"
	"folio/internal/testsupport"
)

type countingFetcher struct {
	calls atomic.Int32
	fail  atomic.Bool
	delay time.Duration
}

func (f *countingFetcher) Fetch(ctx context.Context, unit string) ([]byte, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail.Load() {
		return nil, errors.New("network unreachable")
	}
	return []byte("export default '" + unit + "';"), nil
}

func TestLoadMemoizesResolvedUnit(t *testing.T) {
	fetcher := &countingFetcher{}
	loader := modules.NewLoader(fetcher, logging.NewNop())

	first, err := loader.Load(context.Background(), "unit-a")
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	second, err := loader.Load(context.Background(), "unit-a")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if first != second {
		t.Fatal("expected the memoized instance on the second load")
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one acquisition, got %d", got)
	}
	if first.Digest == "" || first.Size == 0 {
		t.Fatalf("expected digest and size, got %+v", first)
	}
}

func TestLoadFailureDoesNotPoisonRetry(t *testing.T) {
	fetcher := &countingFetcher{}
	fetcher.fail.Store(true)
	loader := modules.NewLoader(fetcher, logging.NewNop())

	_, err := loader.Load(context.Background(), "pdf-reader")
	if err == nil {
		t.Fatal("expected load failure")
	}
	if !errors.Is(err, modules.ErrLoadFailure) {
		t.Fatalf("expected ErrLoadFailure, got %v", err)
	}
	var loadErr *modules.LoadError
	if !errors.As(err, &loadErr) || loadErr.Unit != "pdf-reader" {
		t.Fatalf("expected LoadError for pdf-reader, got %#v", err)
	}

	fetcher.fail.Store(false)
	if _, err := loader.Load(context.Background(), "pdf-reader"); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("expected the retry to fetch again, got %d calls", got)
	}
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	fetcher := &countingFetcher{delay: 20 * time.Millisecond}
	loader := modules.NewLoader(fetcher, logging.NewNop())

	var wg sync.WaitGroup
	results := make([]*modules.Module, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mod, err := loader.Load(context.Background(), "zip-archiver")
			if err != nil {
				t.Errorf("Load: %v", err)
				return
			}
			results[i] = mod
		}(i)
	}
	wg.Wait()

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected one shared fetch, got %d", got)
	}
	for i, mod := range results {
		if mod != results[0] {
			t.Fatalf("result %d differs from first result", i)
		}
	}
}

func TestLoadRejectsInvalidUnit(t *testing.T) {
	fetcher := &countingFetcher{}
	loader := modules.NewLoader(fetcher, logging.NewNop())

	for _, unit := range []string{"", "../etc/passwd", "a/b", "..x"} {
		if _, err := loader.Load(context.Background(), unit); !errors.Is(err, modules.ErrInvalidUnit) {
			t.Fatalf("unit %q: expected ErrInvalidUnit, got %v", unit, err)
		}
	}
	if fetcher.calls.Load() != 0 {
		t.Fatal("invalid units must not reach the fetcher")
	}
}

func TestObserverReportsOutcomes(t *testing.T) {
	var mu sync.Mutex
	var outcomes []string
	loader := modules.NewLoader(&countingFetcher{}, logging.NewNop(), modules.WithObserver(func(unit, outcome string) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, unit+":"+outcome)
	}))

	_, _ = loader.Load(context.Background(), "pdf-reader")
	_, _ = loader.Load(context.Background(), "pdf-reader")

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 2 || outcomes[0] != "pdf-reader:fetched" || outcomes[1] != "pdf-reader:memoized" {
		t.Fatalf("unexpected outcomes: %v", outcomes)
	}
}

func TestObserverCountsSharedFetchOnce(t *testing.T) {
	for _, fail := range []bool{false, true} {
		fetcher := &countingFetcher{delay: 50 * time.Millisecond}
		fetcher.fail.Store(fail)
		var mu sync.Mutex
		counts := map[string]int{}
		loader := modules.NewLoader(fetcher, logging.NewNop(), modules.WithObserver(func(_, outcome string) {
			mu.Lock()
			defer mu.Unlock()
			counts[outcome]++
		}))

		const callers = 8
		var wg sync.WaitGroup
		start := make(chan struct{})
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, _ = loader.Load(context.Background(), "zip-archiver")
			}()
		}
		close(start)
		wg.Wait()

		mu.Lock()
		want := modules.OutcomeFetched
		if fail {
			want = modules.OutcomeFailed
		}
		if counts[want] != 1 || int(fetcher.calls.Load()) != counts[want] {
			t.Fatalf("fail=%v: expected one %s for %d fetch calls, got %v", fail, want, fetcher.calls.Load(), counts)
		}
		total := counts[modules.OutcomeShared] + counts[modules.OutcomeMemoized]
		if fail {
			total += counts[modules.OutcomeFailed]
		} else {
			total += counts[modules.OutcomeFetched]
		}
		if total != callers || (!fail && counts[modules.OutcomeFailed] != 0) {
			t.Fatalf("fail=%v: outcomes do not account for each caller once: %v", fail, counts)
		}
		mu.Unlock()
	}
}

func TestPreloadSwallowsFailures(t *testing.T) {
	fetcher := modules.FetcherFunc(func(ctx context.Context, unit string) ([]byte, error) {
		if unit == "broken" {
			return nil, errors.New("boom")
		}
		return []byte(unit), nil
	})
	loader := modules.NewLoader(fetcher, logging.NewNop(),
		modules.WithPreloadUnits("pdf-reader", "broken", "zip-archiver"),
		modules.WithPreloadTimeout(time.Second))

	loader.Preload(context.Background())
	loader.Wait()

	loaded := loader.Loaded()
	if len(loaded) != 2 || loaded[0] != "pdf-reader" || loaded[1] != "zip-archiver" {
		t.Fatalf("unexpected loaded units: %v", loaded)
	}
}

func TestPreloadIsBoundedByTimeout(t *testing.T) {
	fetcher := modules.FetcherFunc(func(ctx context.Context, unit string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	loader := modules.NewLoader(fetcher, logging.NewNop(),
		modules.WithPreloadUnits("slow"),
		modules.WithPreloadTimeout(20*time.Millisecond))

	done := make(chan struct{})
	go func() {
		loader.Preload(context.Background())
		loader.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("preload did not respect its timeout")
	}
	if len(loader.Loaded()) != 0 {
		t.Fatal("slow unit must not be resolved")
	}
}

func TestDirFetcher(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pdf-reader.js"), []byte("pdf"), 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}
	fetcher := modules.DirFetcher{Dir: dir}

	data, err := fetcher.Fetch(context.Background(), "pdf-reader")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "pdf" {
		t.Fatalf("unexpected data %q", data)
	}
	if _, err := fetcher.Fetch(context.Background(), "missing"); !errors.Is(err, modules.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoaderFromConfigUsesModulesDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteModule(t, cfg, modules.UnitZipArchiver, "zip")

	loader := modules.NewLoaderFromConfig(cfg, logging.NewNop())
	mod, err := loader.Load(context.Background(), modules.UnitZipArchiver)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(mod.Source) != "zip" || mod.Size != 3 {
		t.Fatalf("unexpected module %+v", mod)
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/modules/zip-archiver.js":
			_, _ = w.Write([]byte("zip"))
		case "/modules/broken.js":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	fetcher := modules.NewHTTPFetcher(srv.URL+"/modules/", time.Second)
	data, err := fetcher.Fetch(context.Background(), "zip-archiver")
	if err != nil || string(data) != "zip" {
		t.Fatalf("Fetch = %q, %v", data, err)
	}
	if _, err := fetcher.Fetch(context.Background(), "missing"); !errors.Is(err, modules.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := fetcher.Fetch(context.Background(), "broken"); err == nil {
		t.Fatal("expected status error")
	}
}
