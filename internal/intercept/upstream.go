package intercept

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Headers that describe a single hop and never travel with a stored or
// proxied response.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// maxStoredBody is the default bound on a single cached response body.
const maxStoredBody = 64 << 20

func (i *Intermediary) upstreamURL(r *http.Request) string {
	target := *i.upstream
	target.Path = singleJoin(i.upstream.Path, r.URL.Path)
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery
	target.Fragment = ""
	return target.String()
}

func singleJoin(base, path string) string {
	switch {
	case base == "" || base == "/":
		if path == "" {
			return "/"
		}
		return path
	case path == "":
		return base
	default:
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
}

// forward sends r to the upstream origin using ctx.
func (i *Intermediary) forward(ctx context.Context, r *http.Request, body io.Reader) (*http.Response, error) {
	target := i.upstreamURL(r)
	out, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, &NetworkError{Method: r.Method, URL: target, Err: err}
	}
	copyHeader(out.Header, r.Header)
	stripHopHeaders(out.Header)
	if r.ContentLength > 0 && body != nil {
		out.ContentLength = r.ContentLength
	}

	resp, err := i.client.Do(out)
	if err != nil {
		return nil, &NetworkError{Method: r.Method, URL: target, Err: err}
	}
	return resp, nil
}

// fetchFull retrieves a GET resource and buffers its body.
func (i *Intermediary) fetchFull(ctx context.Context, r *http.Request) (int, http.Header, []byte, error) {
	resp, err := i.forward(ctx, r, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	limit := i.opts.MaxStoredBody
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return 0, nil, nil, &NetworkError{Method: r.Method, URL: i.upstreamURL(r), Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > limit {
		return 0, nil, nil, fmt.Errorf("%s exceeds %d bytes", r.URL.Path, limit)
	}
	return resp.StatusCode, resp.Header.Clone(), body, nil
}

// captureBody passes an upstream body through to the caller while keeping a
// bounded copy. complete runs once with the copy when the body reaches EOF
// within limit; a body over limit or abandoned early is never stored.
type captureBody struct {
	io.ReadCloser
	limit    int64
	complete func([]byte)
	overflow func()

	buf      bytes.Buffer
	overflew bool
	finished bool
}

func (c *captureBody) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 && !c.overflew {
		if int64(c.buf.Len()+n) > c.limit {
			c.overflew = true
			c.buf = bytes.Buffer{}
			if c.overflow != nil {
				c.overflow()
			}
		} else {
			c.buf.Write(p[:n])
		}
	}
	if err == io.EOF && !c.overflew && !c.finished {
		c.finished = true
		c.complete(c.buf.Bytes())
	}
	return n, err
}

func newGet(rawPath string) (*http.Request, error) {
	u, err := url.Parse(rawPath)
	if err != nil {
		return nil, err
	}
	return &http.Request{Method: http.MethodGet, URL: u, Header: http.Header{}}, nil
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func stripHopHeaders(h http.Header) {
	for _, connHeader := range h.Values("Connection") {
		for _, name := range strings.Split(connHeader, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// storableHeader drops headers that must not be replayed from the cache.
func storableHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	stripHopHeaders(out)
	out.Del("Set-Cookie")
	out.Del(CacheHeader)
	out.Del("Content-Length")
	return out
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}
