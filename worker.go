// Package offlinecache is a client-side caching intermediary that keeps a web application
// usable on slow or unreliable networks.
//
// A Worker intercepts requests, classifies them and serves them through a caching
// strategy backed by a versioned store. A Registration manages the worker lifecycle
// across versions, and NewServer exposes the control channel over HTTP.
package offlinecache

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/classifier"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/pkg/manifest"
	"github.com/always-cache/offline-cache/pkg/namespace"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
	"github.com/always-cache/offline-cache/router"
	"github.com/always-cache/offline-cache/strategy"
)

type Config struct {
	// Application id, the prefix of every namespace.
	AppID string
	// Version of the assets. Changing it migrates to new namespaces on activation.
	Version string
	// Storage for cache entries.
	Cache cache.CacheProvider
	// URL of the origin server. Relative request URLs are resolved against it.
	OriginURL url.URL
	// URLs stored on install.
	Manifest manifest.Manifest
	// Glob patterns of external asset hosts. classifier.DefaultExternalHosts is used if nil.
	ExternalHosts []string
	// Path prefix of API requests. classifier.DefaultAPIPrefix is used if empty.
	APIPrefix string
	// Transport used for network requests. http.DefaultTransport is used if nil.
	Transport http.RoundTripper
	// Timeout of a single network fetch. strategy.DefaultTimeout is used if zero,
	// negative disables the timeout.
	FetchTimeout time.Duration
	// Resolutions slower than this are logged. router.DefaultSlowThreshold is used if zero.
	SlowThreshold time.Duration
	// Activate as soon as installed, without waiting for clients of the previous worker.
	SkipWaiting bool
	// Receives push, notification and sync events. A logging bridge is used if nil.
	Notifications NotificationBridge
	// The global tracer provider is used if nil.
	TracerProvider trace.TracerProvider
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Worker intercepts the requests of its clients and serves them
// from the versioned store or the network.
type Worker struct {
	namespaces    namespace.Namespaces
	cache         cache.CacheProvider
	keyer         cachekey.CacheKeyer
	manifest      manifest.Manifest
	classifier    *classifier.Classifier
	network       strategy.Network
	router        *router.Router
	notifications NotificationBridge
	log           zerolog.Logger

	routerConfig router.Config

	mutex        sync.Mutex
	state        State
	skipWaiting  bool
	registration *Registration
	revalidators []*strategy.StaleWhileRevalidate
}

// CreateWorker initializes a worker for the given version.
// Install and activate it, or register it, before handing it client requests.
func CreateWorker(config Config) (*Worker, error) {
	if config.AppID == "" || config.Version == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "app id and version are required")
	}
	if config.Cache == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "cache provider is required")
	}
	if err := config.Manifest.Validate(); err != nil {
		return nil, err
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	ns := namespace.New(config.AppID, config.Version)

	// create a child logger and add defaults
	logger = logger.With().
		Str("app", config.AppID).
		Str("version", ns.Version).
		Logger()

	c, err := classifier.New(classifier.Config{
		StaticPaths:   config.Manifest.StaticPaths(),
		ExternalURLs:  config.Manifest.External,
		ExternalHosts: config.ExternalHosts,
		APIPrefix:     config.APIPrefix,
	})
	if err != nil {
		return nil, err
	}

	timeout := config.FetchTimeout
	if timeout == 0 {
		timeout = strategy.DefaultTimeout
	} else if timeout < 0 {
		timeout = 0
	}
	origin := config.OriginURL

	w := &Worker{
		namespaces:    ns,
		cache:         config.Cache,
		keyer:         cachekey.NewCacheKeyer(&origin),
		manifest:      config.Manifest,
		classifier:    c,
		network:       strategy.Network{Transport: config.Transport, Timeout: timeout},
		notifications: config.Notifications,
		skipWaiting:   config.SkipWaiting,
		log:           logger,
		routerConfig: router.Config{
			Classifier:     c,
			TracerProvider: config.TracerProvider,
			SlowThreshold:  config.SlowThreshold,
			Logger:         logger,
		},
	}
	if w.notifications == nil {
		w.notifications = NewLogBridge(logger, config.AppID)
	}
	if w.router, err = w.newRouter(w.network); err != nil {
		return nil, err
	}
	return w, nil
}

// newRouter binds the strategies of this worker to a network.
func (w *Worker) newRouter(network strategy.Fetcher) (*router.Router, error) {
	store := strategy.Store{
		Provider: w.cache,
		Keyer:    w.keyer,
		Lookup:   w.namespaces.Current(),
		Log:      w.log,
	}
	swr := &strategy.StaleWhileRevalidate{Store: store, Namespace: w.namespaces.External(), Network: network}
	w.mutex.Lock()
	w.revalidators = append(w.revalidators, swr)
	w.mutex.Unlock()

	config := w.routerConfig
	config.Strategies = map[classifier.Classification]strategy.Strategy{
		classifier.StaticAsset:   &strategy.CacheFirst{Store: store, Namespace: w.namespaces.Static(), Network: network},
		classifier.ExternalAsset: swr,
		classifier.ApiRequest:    &strategy.NetworkFirst{Store: store, Namespace: w.namespaces.API(), Network: network},
		classifier.Uncategorized: &strategy.NetworkOnly{Network: network},
	}
	return router.New(config)
}

// Namespaces returns the namespaces of the worker's version.
func (w *Worker) Namespaces() namespace.Namespaces {
	return w.namespaces
}

// Fetch resolves a request through the caching strategies.
// Relative request URLs are resolved against the origin.
func (w *Worker) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return w.router.Route(ctx, w.outgoingRequest(ctx, r))
}

// RoundTrip implements the http.RoundTripper interface.
func (w *Worker) RoundTrip(r *http.Request) (*http.Response, error) {
	return w.Fetch(r.Context(), r)
}

// ServeHTTP implements the http.Handler interface.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.serve(rw, r, w.router)
}

// Middleware returns a handler that serves requests through the worker,
// using next instead of the network.
func (w *Worker) Middleware(next http.Handler) http.Handler {
	network := w.network
	network.Transport = tee.HandlerTransport{Handler: next}
	rt, err := w.newRouter(network)
	if err != nil {
		// the strategies are bound by newRouter itself, so this cannot happen
		panic(err)
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.serve(rw, r, rt)
	})
}

func (w *Worker) serve(rw http.ResponseWriter, r *http.Request, rt *router.Router) {
	defer func() {
		if err := recover(); err != nil {
			w.log.Error().Interface("panic", err).Str("url", r.URL.String()).Msg("Recovered from panic")
			rw.WriteHeader(http.StatusBadGateway)
		}
	}()
	res, err := rt.Route(r.Context(), w.outgoingRequest(r.Context(), r))
	if err != nil {
		w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not fetch response")
		rw.WriteHeader(http.StatusBadGateway)
		return
	}
	w.sendResponse(rw, r, res)
}

func (w *Worker) sendResponse(rw http.ResponseWriter, r *http.Request, res *http.Response) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(rw.Header(), res.Header)
	rw.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(rw, res.Body)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
	w.logRequest(r, res)
	w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// outgoingRequest turns an incoming request into a request for the network.
func (w *Worker) outgoingRequest(ctx context.Context, r *http.Request) *http.Request {
	outreq := r.Clone(ctx)
	outreq.URL = w.keyer.AbsoluteURL(r.URL)
	outreq.Host = ""
	outreq.RequestURI = ""
	outreq.Header.Del("Connection")
	if outreq.ContentLength == 0 {
		outreq.Body = nil
	}
	return outreq
}

// Wait blocks until all background refreshes have finished.
func (w *Worker) Wait() {
	w.mutex.Lock()
	revalidators := append([]*strategy.StaleWhileRevalidate(nil), w.revalidators...)
	w.mutex.Unlock()
	for _, swr := range revalidators {
		swr.Wait()
	}
}
