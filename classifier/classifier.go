// Package classifier assigns every intercepted request to one of four
// categories. The category decides which caching strategy serves the request.
package classifier

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gobwas/glob"
	"github.com/jmgilman/go/errors"
)

type Classification int

const (
	Uncategorized Classification = iota
	StaticAsset
	ExternalAsset
	ApiRequest
)

func (c Classification) String() string {
	switch c {
	case StaticAsset:
		return "static-asset"
	case ExternalAsset:
		return "external-asset"
	case ApiRequest:
		return "api-request"
	default:
		return "uncategorized"
	}
}

var (
	DefaultStaticExtensions = []string{
		"css", "js", "png", "jpg", "jpeg", "gif", "webp", "svg", "ico", "woff", "woff2", "ttf",
	}
	DefaultExternalHosts = []string{
		"*googleapis.com", "*gstatic.com", "*jsdelivr.net", "*fontawesome.com",
	}
	DefaultAPIPrefix = "/api/"
)

type Config struct {
	// Paths of the local static assets listed in the manifest.
	StaticPaths []string
	// Absolute URLs of the external assets listed in the manifest.
	ExternalURLs []string
	// Glob patterns of external asset hosts, e.g. `*.gstatic.com`.
	// DefaultExternalHosts is used if nil.
	ExternalHosts []string
	// File extensions (without dot) of static assets.
	// DefaultStaticExtensions is used if nil.
	StaticExtensions []string
	// Path prefix of API requests. DefaultAPIPrefix is used if empty.
	APIPrefix string
}

// Classifier is a pure, total function from requests to classifications.
// It is safe for concurrent use.
type Classifier struct {
	staticPaths   map[string]bool
	extensions    map[string]bool
	externalHosts []glob.Glob
	externalURLs  []string
	apiPrefix     string
}

func New(config Config) (*Classifier, error) {
	c := &Classifier{
		staticPaths: make(map[string]bool, len(config.StaticPaths)),
		extensions:  make(map[string]bool),
		apiPrefix:   config.APIPrefix,
	}
	for _, p := range config.StaticPaths {
		c.staticPaths[p] = true
	}
	extensions := config.StaticExtensions
	if extensions == nil {
		extensions = DefaultStaticExtensions
	}
	for _, ext := range extensions {
		c.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	hosts := config.ExternalHosts
	if hosts == nil {
		hosts = DefaultExternalHosts
	}
	for _, pattern := range hosts {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid external host pattern %q", pattern)
		}
		c.externalHosts = append(c.externalHosts, g)
	}
	for _, raw := range config.ExternalURLs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return nil, errors.Newf(errors.CodeInvalidConfig, "external url %q must be absolute", raw)
		}
		c.externalURLs = append(c.externalURLs, raw)
	}
	if c.apiPrefix == "" {
		c.apiPrefix = DefaultAPIPrefix
	}
	return c, nil
}

// Classify returns the category of a request with the given method and absolute URL.
// The first matching rule wins:
//
//  1. mutating methods (POST, PUT, DELETE) are API requests,
//     even for paths that look like static assets
//  2. manifest static paths and static file extensions are static assets
//  3. allow-listed hosts and manifest external URLs are external assets
//  4. paths under the API prefix are API requests
//
// Everything else is uncategorized.
func (c *Classifier) Classify(method string, u *url.URL) Classification {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return ApiRequest
	}
	if c.isStatic(u) {
		return StaticAsset
	}
	if c.isExternal(u) {
		return ExternalAsset
	}
	if strings.HasPrefix(u.Path, c.apiPrefix) {
		return ApiRequest
	}
	return Uncategorized
}

// ClassifyRequest classifies an HTTP request.
func (c *Classifier) ClassifyRequest(r *http.Request) Classification {
	return c.Classify(r.Method, r.URL)
}

func (c *Classifier) isStatic(u *url.URL) bool {
	if c.staticPaths[u.Path] {
		return true
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	return ext != "" && c.extensions[strings.ToLower(ext)]
}

func (c *Classifier) isExternal(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, g := range c.externalHosts {
		if host != "" && g.Match(host) {
			return true
		}
	}
	raw := u.String()
	for _, external := range c.externalURLs {
		if strings.HasPrefix(raw, external) {
			return true
		}
	}
	return false
}
