package offlinecache

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/manifest"
)

var siteManifest = manifest.Manifest{
	Static:   []string{"/index.html", "/style.css"},
	External: []string{"https://cdn.example/font.css"},
}

// testOrigin serves the site and every external host.
// It is also the transport of the workers under test, so it sees every network request.
type testOrigin struct {
	*httptest.Server
	target  *url.URL
	calls   atomic.Int32
	offline atomic.Bool
}

func newTestOrigin(t *testing.T) *testOrigin {
	var items atomic.Int32
	r := chi.NewRouter()
	r.Get("/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	})
	r.Get("/style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("body{}"))
	})
	r.Get("/font.css", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("@font-face{}"))
	})
	r.Get("/css2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("@font-face{}"))
	})
	r.Get("/a.js", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("console.log(1)"))
	})
	r.Get("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("about"))
	})
	r.Get("/api/items", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"items":%d}`, items.Add(1))
	})
	r.Post("/api/contact", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sent":true}`))
	})

	o := &testOrigin{Server: httptest.NewServer(r)}
	t.Cleanup(o.Close)
	target, err := url.Parse(o.URL)
	require.NoError(t, err)
	o.target = target
	return o
}

func (o *testOrigin) RoundTrip(req *http.Request) (*http.Response, error) {
	o.calls.Add(1)
	if o.offline.Load() {
		return nil, fmt.Errorf("dial tcp %s: connect: network is unreachable", req.URL.Host)
	}
	outreq := req.Clone(req.Context())
	outreq.URL.Scheme = o.target.Scheme
	outreq.URL.Host = o.target.Host
	outreq.Host = req.URL.Host
	return http.DefaultTransport.RoundTrip(outreq)
}

func testConfig(o *testOrigin, provider cache.CacheProvider, version string, m manifest.Manifest) Config {
	logger := zerolog.Nop()
	origin, _ := url.Parse("https://site.example")
	return Config{
		AppID:     "app",
		Version:   version,
		Cache:     provider,
		OriginURL: *origin,
		Manifest:  m,
		Transport: o,
		Logger:    &logger,
	}
}

func newTestWorker(t *testing.T, o *testOrigin, provider cache.CacheProvider, version string, m manifest.Manifest) *Worker {
	w, err := CreateWorker(testConfig(o, provider, version, m))
	require.NoError(t, err)
	t.Cleanup(w.Wait)
	return w
}

func newTestRegistration(o *testOrigin) *Registration {
	logger := zerolog.Nop()
	origin, _ := url.Parse("https://site.example")
	return NewRegistration(RegistrationConfig{
		OriginURL: *origin,
		Transport: o,
		Logger:    &logger,
	})
}

func namespaces(t *testing.T, provider cache.CacheProvider) []string {
	names, err := provider.Namespaces()
	require.NoError(t, err)
	return names
}

func entries(t *testing.T, provider cache.CacheProvider, name string) int {
	c, err := provider.Open(name)
	require.NoError(t, err)
	n, err := c.Count()
	require.NoError(t, err)
	return n
}
