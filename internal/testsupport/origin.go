package testsupport

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Origin is a fake front-end origin serving fixed bodies by path.
type Origin struct {
	*httptest.Server

	mu     sync.Mutex
	bodies map[string]string
	hits   map[string]int
}

// NewOrigin starts an Origin serving bodies and registers cleanup.
func NewOrigin(t testing.TB, bodies map[string]string) *Origin {
	t.Helper()

	o := &Origin{bodies: map[string]string{}, hits: map[string]int{}}
	for path, body := range bodies {
		o.bodies[path] = body
	}
	o.Server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.Close)
	return o
}

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.hits[r.URL.Path]++
	body, ok := o.bodies[r.URL.Path]
	o.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(body))
}

// Set replaces the body served at path.
func (o *Origin) Set(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bodies[path] = body
}

// Hits reports how many requests reached path.
func (o *Origin) Hits(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}
