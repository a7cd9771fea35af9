package cachestore

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Key identifies a stored response.
type Key struct {
	Method string
	URL    string
}

// NewKey normalizes method and rawURL into a Key. The method is upper-cased,
// the fragment dropped, and scheme and host lower-cased.
func NewKey(method, rawURL string) (Key, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Key{}, fmt.Errorf("parse cache key url: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	return Key{Method: method, URL: u.String()}, nil
}

// KeyForRequest derives the key of an inbound request from its method and
// request URI.
func KeyForRequest(r *http.Request) (Key, error) {
	return NewKey(r.Method, r.URL.RequestURI())
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}
