package offlinecache

import (
	"context"
	"net/http"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/strategy"
)

type MessageType string

const (
	MessageSkipWaiting    MessageType = "SKIP_WAITING"
	MessageCacheURLs      MessageType = "CACHE_URLS"
	MessageClearCache     MessageType = "CLEAR_CACHE"
	MessageGetCacheStatus MessageType = "GET_CACHE_STATUS"
)

type Payload struct {
	// URLs to store, for CACHE_URLS.
	URLs []string `json:"urls,omitempty"`
	// Namespace to delete, for CLEAR_CACHE. Defaults to the static namespace.
	CacheName string `json:"cacheName,omitempty"`
}

// Message is an out-of-band control message sent to a worker.
type Message struct {
	Type    MessageType `json:"type"`
	Payload Payload     `json:"payload"`
	// Optional channel the reply is delivered to.
	Reply chan<- Reply `json:"-"`
}

type Reply struct {
	Type MessageType `json:"type"`
	// Entry count per namespace, for GET_CACHE_STATUS.
	Status map[string]int `json:"status,omitempty"`
	// Deleted namespace and whether it existed, for CLEAR_CACHE.
	CacheName string `json:"cacheName,omitempty"`
	Found     bool   `json:"found,omitempty"`
	// Stored and failed URLs, for CACHE_URLS.
	Cached []string `json:"cached,omitempty"`
	Failed []string `json:"failed,omitempty"`
}

// HandleMessage applies a control message to the worker and its store.
// The reply is returned and, if the message has a reply channel, delivered to it.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) (Reply, error) {
	w.log.Debug().Str("type", string(msg.Type)).Msg("Received control message")
	var reply Reply
	var err error
	switch msg.Type {
	case MessageSkipWaiting:
		reply, err = Reply{Type: msg.Type}, w.SkipWaiting(ctx)
	case MessageCacheURLs:
		reply = w.cacheURLs(ctx, msg.Payload.URLs)
	case MessageClearCache:
		reply, err = w.clearCache(msg.Payload.CacheName)
	case MessageGetCacheStatus:
		reply, err = w.cacheStatus()
	default:
		err = errors.Newf(errors.CodeInvalidInput, "unknown message type %q", msg.Type)
	}
	if err != nil {
		return Reply{}, err
	}
	if msg.Reply != nil {
		select {
		case msg.Reply <- reply:
		case <-ctx.Done():
			w.log.Warn().Str("type", string(msg.Type)).Msg("Reply not delivered")
		}
	}
	return reply, nil
}

// cacheURLs stores the URLs in the static namespace.
// Failures are logged and do not stop the remaining URLs.
func (w *Worker) cacheURLs(ctx context.Context, urls []string) Reply {
	reply := Reply{Type: MessageCacheURLs}
	for _, rawURL := range urls {
		if err := w.cacheURL(ctx, rawURL); err != nil {
			w.log.Warn().Err(err).Str("url", rawURL).Msg("Could not cache url")
			reply.Failed = append(reply.Failed, rawURL)
			continue
		}
		reply.Cached = append(reply.Cached, rawURL)
	}
	w.log.Info().Strs("cached", reply.Cached).Strs("failed", reply.Failed).Msg("Cached urls")
	return reply
}

func (w *Worker) cacheURL(ctx context.Context, rawURL string) error {
	u, err := w.parseURL(rawURL)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInvalidInput, "invalid url %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInvalidInput, "invalid url %s", rawURL)
	}
	res, err := w.network.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if !strategy.IsSuccess(res) {
		return errors.Newf(errors.CodeNetwork, "fetch %s: %s", rawURL, res.Status)
	}
	b, err := serializer.ResponseToBytes(res)
	if err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "could not read response")
	}
	c, err := w.cache.Open(w.namespaces.Static())
	if err != nil {
		return err
	}
	return c.Put(cache.CacheEntry{Key: w.keyer.GetKey(req), StoredAt: time.Now(), Bytes: b})
}

func (w *Worker) clearCache(name string) (Reply, error) {
	if name == "" {
		name = w.namespaces.Static()
	}
	found, err := w.cache.Delete(name)
	if err != nil {
		return Reply{}, err
	}
	w.log.Info().Str("namespace", name).Bool("found", found).Msg("Cleared cache")
	return Reply{Type: MessageClearCache, CacheName: name, Found: found}, nil
}

func (w *Worker) cacheStatus() (Reply, error) {
	names, err := w.cache.Namespaces()
	if err != nil {
		return Reply{}, err
	}
	status := make(map[string]int, len(names))
	for _, name := range names {
		count, ok, err := w.cache.Count(name)
		if err != nil {
			return Reply{}, err
		}
		// deleted since listed
		if ok {
			status[name] = count
		}
	}
	return Reply{Type: MessageGetCacheStatus, Status: status}, nil
}
