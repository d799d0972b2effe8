// Package strategy implements the caching policies requests are served with.
//
// Every strategy sets a Cache-Status header on the responses it returns.
package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/jmgilman/go/errors"

	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

const (
	UnavailableAssetBody = "Asset unavailable"
	UnavailableAPIError  = "Service indisponible"
)

type Strategy interface {
	// Name identifies the strategy in logs and traces.
	Name() string
	Resolve(ctx context.Context, req *http.Request) (*http.Response, error)
}

// CacheFirst serves cached responses without touching the network.
// Misses are fetched and stored if successful.
type CacheFirst struct {
	Store
	Namespace string
	Network   Fetcher
}

func (s *CacheFirst) Name() string { return "cache-first" }

func (s *CacheFirst) Resolve(ctx context.Context, req *http.Request) (*http.Response, error) {
	cs := cachestatus.CacheStatus{}
	if res, ok := s.match(req); ok {
		cs.Hit()
		cs.Apply(res)
		return res, nil
	}
	cs.Forward(cachestatus.FwdUriMiss)
	res, err := s.Network.Fetch(ctx, req)
	if err != nil {
		s.Log.Warn().Err(err).Str("url", req.URL.String()).Msg("Asset not cached and network unavailable")
		res = serializer.NewResponse(req, http.StatusServiceUnavailable, http.Header{
			"Content-Type": []string{"text/plain; charset=utf-8"},
		}, []byte(UnavailableAssetBody))
		cs.Detail = string(errors.GetCode(err))
		cs.Apply(res)
		return res, nil
	}
	cs.Stored = s.put(s.Namespace, req, res)
	cs.Apply(res)
	return res, nil
}

// StaleWhileRevalidate serves cached responses immediately
// and refreshes them in the background.
type StaleWhileRevalidate struct {
	Store
	Namespace string
	Network   Fetcher

	refreshes sync.WaitGroup
}

func (s *StaleWhileRevalidate) Name() string { return "stale-while-revalidate" }

func (s *StaleWhileRevalidate) Resolve(ctx context.Context, req *http.Request) (*http.Response, error) {
	cs := cachestatus.CacheStatus{}
	cached, ok := s.match(req)
	if !ok {
		cs.Forward(cachestatus.FwdUriMiss)
		res, err := s.Network.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		cs.Stored = s.put(s.Namespace, req, res)
		cs.Apply(res)
		return res, nil
	}

	// the refresh must survive the client request
	refreshCtx := context.WithoutCancel(ctx)
	refreshReq := req.Clone(refreshCtx)
	s.refreshes.Add(1)
	go func() {
		defer s.refreshes.Done()
		s.refresh(refreshCtx, refreshReq)
	}()

	cs.Hit()
	cs.Apply(cached)
	return cached, nil
}

func (s *StaleWhileRevalidate) refresh(ctx context.Context, req *http.Request) {
	res, err := s.Network.Fetch(ctx, req)
	if err != nil {
		s.Log.Debug().Err(err).Str("url", req.URL.String()).Msg("Background refresh failed")
		return
	}
	defer res.Body.Close()
	s.put(s.Namespace, req, res)
}

// Wait blocks until all background refreshes have finished.
func (s *StaleWhileRevalidate) Wait() {
	s.refreshes.Wait()
}

// NetworkFirst prefers fresh responses and falls back to the cache when offline.
type NetworkFirst struct {
	Store
	Namespace string
	Network   Fetcher
}

func (s *NetworkFirst) Name() string { return "network-first" }

func (s *NetworkFirst) Resolve(ctx context.Context, req *http.Request) (*http.Response, error) {
	cs := cachestatus.CacheStatus{}
	res, err := s.Network.Fetch(ctx, req)
	if err == nil {
		cs.Forward(cachestatus.FwdBypass)
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			cs.Forward(cachestatus.FwdMethod)
		}
		cs.Stored = s.put(s.Namespace, req, res)
		cs.Apply(res)
		return res, nil
	}

	s.Log.Debug().Err(err).Str("url", req.URL.String()).Msg("Network unavailable, trying cache")
	if cached, ok := s.match(req); ok {
		cs.Hit()
		cs.Detail = "offline"
		cs.Apply(cached)
		return cached, nil
	}

	body, _ := json.Marshal(map[string]string{"error": UnavailableAPIError})
	res = serializer.NewResponse(req, http.StatusServiceUnavailable, http.Header{
		"Content-Type": []string{"application/json"},
	}, body)
	cs.Forward(cachestatus.FwdUriMiss)
	cs.Detail = string(errors.GetCode(err))
	cs.Apply(res)
	return res, nil
}

// NetworkOnly sends requests to the network and never stores the responses.
type NetworkOnly struct {
	Network Fetcher
}

func (s *NetworkOnly) Name() string { return "network-only" }

func (s *NetworkOnly) Resolve(ctx context.Context, req *http.Request) (*http.Response, error) {
	res, err := s.Network.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	cs := cachestatus.CacheStatus{}
	cs.Forward(cachestatus.FwdBypass)
	cs.Apply(res)
	return res, nil
}
