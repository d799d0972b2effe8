package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	"github.com/always-cache/offline-cache/pkg/namespace"
)

// origin counts requests and answers with the request count.
type origin struct {
	*httptest.Server
	calls atomic.Int32
}

func newOrigin(t *testing.T, handler http.HandlerFunc) *origin {
	o := &origin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := o.calls.Add(1)
		if handler != nil {
			handler(w, r)
			return
		}
		fmt.Fprintf(w, "response %d", n)
	}))
	t.Cleanup(o.Close)
	return o
}

// switchable is a network that can be taken offline.
type switchable struct {
	Network
	offline atomic.Bool
}

func (s *switchable) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if s.offline.Load() {
		return nil, errors.New(errors.CodeNetwork, "offline")
	}
	return s.Network.Fetch(ctx, req)
}

var ns = namespace.New("app", "v1")

func newStore(t *testing.T, o *origin) Store {
	u, err := url.Parse(o.URL)
	require.NoError(t, err)
	return Store{
		Provider: cache.NewMemCache(),
		Keyer:    cachekey.NewCacheKeyer(u),
		Lookup:   ns.Current(),
		Log:      zerolog.Nop(),
	}
}

func get(t *testing.T, s Strategy, rawURL string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	res, err := s.Resolve(context.Background(), req)
	require.NoError(t, err)
	return res
}

func body(t *testing.T, res *http.Response) string {
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

func count(t *testing.T, store Store, name string) int {
	c, err := store.Provider.Open(name)
	require.NoError(t, err)
	n, err := c.Count()
	require.NoError(t, err)
	return n
}

func TestCacheFirstServesFromCache(t *testing.T) {
	o := newOrigin(t, nil)
	s := &CacheFirst{Store: newStore(t, o), Namespace: ns.Static(), Network: Network{}}

	res := get(t, s, o.URL+"/style.css")
	assert.Equal(t, "response 1", body(t, res))
	assert.Contains(t, res.Header.Get(cachestatus.HeaderName), "fwd=uri-miss; stored")

	res = get(t, s, o.URL+"/style.css")
	assert.Equal(t, "response 1", body(t, res))
	assert.Equal(t, "Offline-Cache; hit", res.Header.Get(cachestatus.HeaderName))
	assert.EqualValues(t, 1, o.calls.Load())
	assert.Equal(t, 1, count(t, s.Store, ns.Static()))
}

func TestCacheFirstDoesNotStoreErrors(t *testing.T) {
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	s := &CacheFirst{Store: newStore(t, o), Namespace: ns.Static(), Network: Network{}}

	assert.Equal(t, http.StatusNotFound, get(t, s, o.URL+"/missing.js").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, s, o.URL+"/missing.js").StatusCode)
	assert.EqualValues(t, 2, o.calls.Load())
	assert.Equal(t, 0, count(t, s.Store, ns.Static()))
}

func TestCacheFirstOfflineMiss(t *testing.T) {
	o := newOrigin(t, nil)
	network := &switchable{}
	network.offline.Store(true)
	s := &CacheFirst{Store: newStore(t, o), Namespace: ns.Static(), Network: network}

	res := get(t, s, o.URL+"/logo.png")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, UnavailableAssetBody, body(t, res))
	assert.Contains(t, res.Header.Get(cachestatus.HeaderName), "detail=NETWORK_ERROR")
}

func TestCacheFirstFindsEntriesInOtherNamespaces(t *testing.T) {
	o := newOrigin(t, nil)
	store := newStore(t, o)
	cdn := &StaleWhileRevalidate{Store: store, Namespace: ns.External(), Network: Network{}}
	get(t, cdn, o.URL+"/font.css")

	s := &CacheFirst{Store: store, Namespace: ns.Static(), Network: Network{}}
	assert.Equal(t, "response 1", body(t, get(t, s, o.URL+"/font.css")))
	assert.EqualValues(t, 1, o.calls.Load())
}

func TestStaleWhileRevalidate(t *testing.T) {
	release := make(chan struct{})
	var blocking atomic.Bool
	var version atomic.Int32
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		if blocking.Load() {
			<-release
		}
		fmt.Fprintf(w, "font %d", version.Add(1))
	})
	s := &StaleWhileRevalidate{Store: newStore(t, o), Namespace: ns.External(), Network: Network{}}

	// not cached: waits for the network
	assert.Equal(t, "font 1", body(t, get(t, s, o.URL+"/font.css")))

	// cached: returned without waiting for the refresh
	blocking.Store(true)
	done := make(chan *http.Response)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, o.URL+"/font.css", nil)
		res, _ := s.Resolve(context.Background(), req)
		done <- res
	}()
	select {
	case res := <-done:
		assert.Equal(t, "Offline-Cache; hit", res.Header.Get(cachestatus.HeaderName))
		b, _ := io.ReadAll(res.Body)
		assert.Equal(t, "font 1", string(b))
	case <-time.After(5 * time.Second):
		t.Fatal("cached response waited for the network")
	}
	close(release)
	s.Wait()

	// the refresh replaced the entry
	assert.Equal(t, "font 2", body(t, get(t, s, o.URL+"/font.css")))
	s.Wait()
	assert.Equal(t, 1, count(t, s.Store, ns.External()))
}

func TestStaleWhileRevalidateOfflineMiss(t *testing.T) {
	o := newOrigin(t, nil)
	network := &switchable{}
	network.offline.Store(true)
	s := &StaleWhileRevalidate{Store: newStore(t, o), Namespace: ns.External(), Network: network}

	req, _ := http.NewRequest(http.MethodGet, o.URL+"/font.css", nil)
	_, err := s.Resolve(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNetwork, errors.GetCode(err))
}

func TestStaleWhileRevalidateRefreshFailureKeepsEntry(t *testing.T) {
	o := newOrigin(t, nil)
	network := &switchable{}
	s := &StaleWhileRevalidate{Store: newStore(t, o), Namespace: ns.External(), Network: network}
	get(t, s, o.URL+"/font.css")

	network.offline.Store(true)
	assert.Equal(t, "response 1", body(t, get(t, s, o.URL+"/font.css")))
	s.Wait()
	assert.Equal(t, "response 1", body(t, get(t, s, o.URL+"/font.css")))
	s.Wait()
}

func TestNetworkFirstPrefersNetwork(t *testing.T) {
	o := newOrigin(t, nil)
	network := &switchable{}
	s := &NetworkFirst{Store: newStore(t, o), Namespace: ns.API(), Network: network}

	assert.Equal(t, "response 1", body(t, get(t, s, o.URL+"/api/items")))
	assert.Equal(t, "response 2", body(t, get(t, s, o.URL+"/api/items")))

	network.offline.Store(true)
	res := get(t, s, o.URL+"/api/items")
	assert.Equal(t, "response 2", body(t, res))
	assert.Equal(t, "Offline-Cache; hit; detail=offline", res.Header.Get(cachestatus.HeaderName))
}

func TestNetworkFirstOfflineWithoutCache(t *testing.T) {
	o := newOrigin(t, nil)
	network := &switchable{}
	network.offline.Store(true)
	s := &NetworkFirst{Store: newStore(t, o), Namespace: ns.API(), Network: network}

	req, _ := http.NewRequest(http.MethodPost, o.URL+"/api/contact", nil)
	res, err := s.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var payload map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	assert.Equal(t, map[string]string{"error": UnavailableAPIError}, payload)
}

func TestNetworkFirstNeverStoresMutations(t *testing.T) {
	o := newOrigin(t, nil)
	s := &NetworkFirst{Store: newStore(t, o), Namespace: ns.API(), Network: Network{}}

	req, _ := http.NewRequest(http.MethodPost, o.URL+"/api/contact", nil)
	res, err := s.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Offline-Cache; fwd=method", res.Header.Get(cachestatus.HeaderName))

	names, err := s.Provider.Namespaces()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNetworkOnly(t *testing.T) {
	o := newOrigin(t, nil)
	s := &NetworkOnly{Network: Network{}}
	assert.Equal(t, "response 1", body(t, get(t, s, o.URL+"/page")))
	assert.Equal(t, "response 2", body(t, get(t, s, o.URL+"/page")))

	network := &switchable{}
	network.offline.Store(true)
	s = &NetworkOnly{Network: network}
	req, _ := http.NewRequest(http.MethodGet, o.URL+"/page", nil)
	_, err := s.Resolve(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNetwork, errors.GetCode(err))
}

func TestNetworkTimeout(t *testing.T) {
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	n := Network{Timeout: 20 * time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, o.URL+"/slow", nil)
	_, err := n.Fetch(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
}

func TestNetworkBuffersBody(t *testing.T) {
	o := newOrigin(t, nil)
	n := Network{Timeout: time.Second}

	req, _ := http.NewRequest(http.MethodGet, o.URL+"/page", nil)
	res, err := n.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, len("response 1"), res.ContentLength)
	assert.Equal(t, "response 1", body(t, res))
}
