package strategy

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// Store is the part of the versioned store a strategy reads from and writes to.
// Storage failures are logged and reported as misses, so requests degrade to the network.
type Store struct {
	Provider cache.CacheProvider
	Keyer    cachekey.CacheKeyer
	// Namespaces searched on lookup, in order.
	Lookup []string
	Log    zerolog.Logger
}

func (s Store) match(req *http.Request) (*http.Response, bool) {
	key := s.Keyer.GetKey(req)
	s.Log.Trace().Str("key", key).Msg("Looking up cached response")
	ce, ok, err := s.Provider.Match(s.Lookup, key)
	if err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	res, err := serializer.BytesToResponse(ce.Bytes, req)
	if err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("Could not create response from cache entry")
		return nil, false
	}
	if _, err := serializer.ReadBody(res); err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("Could not read cached body")
		return nil, false
	}
	return res, true
}

// put stores a copy of a successful GET or HEAD response in the namespace.
// It reports whether the response was stored.
func (s Store) put(namespace string, req *http.Request, res *http.Response) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if !IsSuccess(res) {
		return false
	}
	log := s.Log.With().Str("namespace", namespace).Logger()
	b, err := serializer.ResponseToBytes(res)
	if err != nil {
		log.Warn().Err(err).Msg("Could not serialize response")
		return false
	}
	c, err := s.Provider.Open(namespace)
	if err != nil {
		log.Warn().Err(err).Msg("Could not open cache")
		return false
	}
	key := s.Keyer.GetKey(req)
	if err := c.Put(cache.CacheEntry{Key: key, StoredAt: time.Now(), Bytes: b}); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Could not write to cache")
		return false
	}
	log.Trace().Str("key", key).Msg("Stored response")
	return true
}
