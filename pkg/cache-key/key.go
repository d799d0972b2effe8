package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const methodSeparator = " "

// CacheKeyer derives store keys for requests.
// Relative request URLs (as seen by a reverse proxy) are resolved against the origin.
type CacheKeyer struct {
	// Origin that relative request URLs belong to.
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// GetKey returns the normalized identity of a request: the method and the absolute URL,
// query included. The fragment is dropped and scheme and host are lowercased.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return r.Method + methodSeparator + c.AbsoluteURL(r.URL).String()
}

// GetURLKey returns the key a GET request for the given raw URL would have.
func (c CacheKeyer) GetURLKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return http.MethodGet + methodSeparator + c.AbsoluteURL(u).String(), nil
}

// AbsoluteURL resolves u against the origin and normalizes it.
// The passed URL is not modified.
func (c CacheKeyer) AbsoluteURL(u *url.URL) *url.URL {
	abs := *u
	if !abs.IsAbs() && c.Origin != nil {
		abs = *c.Origin.ResolveReference(u)
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	abs.Scheme = strings.ToLower(abs.Scheme)
	abs.Host = strings.ToLower(abs.Host)
	if abs.Path == "" && abs.Host != "" {
		abs.Path = "/"
	}
	return &abs
}

// GetRequestFromKey creates a request equal to the one that resulted in the given key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || uri == "" {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	return http.NewRequest(method, uri, nil)
}
