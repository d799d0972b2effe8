package offlinecache

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/strategy"
)

type State int

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "new"
	}
}

var ErrInstallInProgress = errors.New(errors.CodeConflict, "install already in progress")

// IsManifestPopulationError reports whether the error is an install failure
// caused by a manifest URL that could not be fetched.
func IsManifestPopulationError(err error) bool {
	return errors.GetCode(err) == errors.CodeExecutionFailed
}

// State returns the lifecycle state of the worker.
func (w *Worker) State() State {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.log.Debug().Str("from", w.state.String()).Str("to", state.String()).Msg("Worker state changed")
	w.state = state
}

// Install fetches every manifest URL and stores the responses in the static and
// external namespaces. Either all responses are stored or none: a single failed
// fetch fails the install and makes the worker redundant.
func (w *Worker) Install(ctx context.Context) error {
	w.mutex.Lock()
	switch w.state {
	case StateInstalling:
		w.mutex.Unlock()
		return ErrInstallInProgress
	case StateNew:
		w.state = StateInstalling
	default:
		state := w.state
		w.mutex.Unlock()
		return errors.Newf(errors.CodeConflict, "cannot install a worker that is %s", state)
	}
	w.mutex.Unlock()

	start := time.Now()
	w.log.Info().Int("static", len(w.manifest.Static)).Int("external", len(w.manifest.External)).Msg("Installing")
	if err := w.populate(ctx); err != nil {
		w.log.Error().Err(err).Msg("Install failed")
		w.setState(StateRedundant)
		return err
	}
	w.log.Info().Dur("duration", time.Since(start)).Msg("Installed")
	w.setState(StateInstalled)
	return nil
}

func (w *Worker) populate(ctx context.Context) error {
	static := make([]cache.CacheEntry, len(w.manifest.Static))
	external := make([]cache.CacheEntry, len(w.manifest.External))

	g, gctx := errgroup.WithContext(ctx)
	fetchAll := func(urls []string, entries []cache.CacheEntry) {
		for i, rawURL := range urls {
			g.Go(func() error {
				ce, err := w.fetchEntry(gctx, rawURL)
				if err != nil {
					return err
				}
				entries[i] = ce
				return nil
			})
		}
	}
	fetchAll(w.manifest.Static, static)
	fetchAll(w.manifest.External, external)
	if err := g.Wait(); err != nil {
		return err
	}

	groups := []struct {
		namespace string
		entries   []cache.CacheEntry
	}{
		{w.namespaces.Static(), static},
		{w.namespaces.External(), external},
	}
	for i, group := range groups {
		c, err := w.cache.Open(group.namespace)
		if err == nil {
			err = c.PutAll(group.entries)
		}
		if err != nil {
			// undo the groups already written
			for _, written := range groups[:i] {
				w.cache.Delete(written.namespace)
			}
			return errors.Wrap(err, errors.CodeExecutionFailed, "could not store manifest")
		}
		w.log.Debug().Str("namespace", group.namespace).Int("entries", len(group.entries)).Msg("Stored manifest group")
	}
	return nil
}

func (w *Worker) fetchEntry(ctx context.Context, rawURL string) (cache.CacheEntry, error) {
	u, err := w.parseURL(rawURL)
	if err != nil {
		return cache.CacheEntry{}, errors.Wrapf(err, errors.CodeExecutionFailed, "invalid manifest url %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return cache.CacheEntry{}, errors.Wrapf(err, errors.CodeExecutionFailed, "invalid manifest url %s", rawURL)
	}
	res, err := w.network.Fetch(ctx, req)
	if err != nil {
		return cache.CacheEntry{}, errors.Wrapf(err, errors.CodeExecutionFailed, "could not fetch %s", rawURL)
	}
	defer res.Body.Close()
	if !strategy.IsSuccess(res) {
		return cache.CacheEntry{}, errors.WithContext(
			errors.Newf(errors.CodeExecutionFailed, "could not fetch %s: %s", rawURL, res.Status),
			"status", res.StatusCode)
	}
	b, err := serializer.ResponseToBytes(res)
	if err != nil {
		return cache.CacheEntry{}, errors.Wrapf(err, errors.CodeExecutionFailed, "could not serialize %s", rawURL)
	}
	return cache.CacheEntry{Key: w.keyer.GetKey(req), StoredAt: time.Now(), Bytes: b}, nil
}

// parseURL resolves a possibly relative URL against the origin.
func (w *Worker) parseURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return w.keyer.AbsoluteURL(u).String(), nil
}

// Activate deletes the namespaces of other versions of the application.
// Namespaces of other applications are kept.
func (w *Worker) Activate(ctx context.Context) error {
	w.mutex.Lock()
	switch w.state {
	case StateActive:
		w.mutex.Unlock()
		return nil
	case StateInstalled:
		w.state = StateActivating
	default:
		state := w.state
		w.mutex.Unlock()
		return errors.Newf(errors.CodeConflict, "cannot activate a worker that is %s", state)
	}
	w.mutex.Unlock()

	deleted, err := w.deleteStaleNamespaces(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Activation failed")
		w.setState(StateInstalled)
		return err
	}
	w.log.Info().Strs("deleted", deleted).Msg("Activated")
	w.setState(StateActive)
	return nil
}

func (w *Worker) deleteStaleNamespaces(ctx context.Context) ([]string, error) {
	names, err := w.cache.Namespaces()
	if err != nil {
		return nil, err
	}
	deleted := []string{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return deleted, errors.Wrap(err, errors.CodeTimeout, "activation interrupted")
		}
		if !w.namespaces.IsStale(name) {
			continue
		}
		w.log.Info().Str("namespace", name).Msg("Deleting old cache")
		if _, err := w.cache.Delete(name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}

// SkipWaiting makes a waiting worker activate without waiting for the clients
// of the active worker to go away.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.mutex.Lock()
	w.skipWaiting = true
	r := w.registration
	w.mutex.Unlock()
	if r == nil {
		return nil
	}
	return r.promote(ctx)
}

func (w *Worker) skipsWaiting() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.skipWaiting
}
