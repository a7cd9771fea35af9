package intercept

import (
	"errors"
	"io"
	"net/http"

	"folio/internal/logging"
)

// ServeHTTP answers r through Fetch. Network failures with no cached copy
// become 502 Bad Gateway.
func (i *Intermediary) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := i.Fetch(r.Context(), r)
	if err != nil {
		if errors.Is(err, ErrNetwork) {
			i.logger.Debug("upstream unreachable",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Error(err))
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	stripHopHeaders(header)
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		i.logger.Debug("response copy interrupted", logging.String("path", r.URL.Path), logging.Error(err))
	}
}
