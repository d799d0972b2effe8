package offlinecache

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

// ClientIDHeader identifies the client (e.g. a browser tab) a request comes from.
// Requests without it are identified by their source IP.
const ClientIDHeader = "Client-Id"

type RegistrationConfig struct {
	// URL of the origin server, used while no worker is active.
	OriginURL url.URL
	// Transport used while no worker is active. http.DefaultTransport is used if nil.
	Transport http.RoundTripper
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Registration holds the active and the waiting worker of an application
// and decides which worker controls which client.
//
// A new worker waits until the clients of the active worker are gone, unless it
// skips waiting. Once activated, it claims every client.
type Registration struct {
	mutex   sync.Mutex
	active  *Worker
	waiting *Worker
	// controlling worker per client, nil while no worker is active
	clients map[string]*Worker

	passthrough httputil.ReverseProxy
	log         zerolog.Logger
}

func NewRegistration(config RegistrationConfig) *Registration {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	origin := config.OriginURL
	return &Registration{
		clients: make(map[string]*Worker),
		passthrough: httputil.ReverseProxy{
			Director:  createDirector(&origin),
			Transport: transport,
		},
		log: logger,
	}
}

// Register installs the worker and activates it if nothing keeps it waiting.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	w.mutex.Lock()
	w.registration = r
	w.mutex.Unlock()

	if err := w.Install(ctx); err != nil {
		return err
	}

	r.mutex.Lock()
	if r.waiting != nil && r.waiting != w {
		r.waiting.setState(StateRedundant)
	}
	r.waiting = w
	r.mutex.Unlock()

	return r.promote(ctx)
}

// promote activates the waiting worker if nothing keeps it waiting.
func (r *Registration) promote(ctx context.Context) error {
	r.mutex.Lock()
	w := r.waiting
	if w == nil {
		r.mutex.Unlock()
		return nil
	}
	if r.active != nil && r.controlledLocked(r.active) > 0 && !w.skipsWaiting() {
		r.mutex.Unlock()
		w.log.Info().Msg("Waiting for clients of the active worker to go away")
		return nil
	}
	r.waiting = nil
	r.mutex.Unlock()

	if err := w.Activate(ctx); err != nil {
		r.mutex.Lock()
		if r.waiting == nil {
			r.waiting = w
		}
		r.mutex.Unlock()
		return err
	}

	r.mutex.Lock()
	old := r.active
	r.active = w
	// claim every client
	for id := range r.clients {
		r.clients[id] = w
	}
	r.mutex.Unlock()

	if old != nil && old != w {
		old.setState(StateRedundant)
	}
	return nil
}

func (r *Registration) controlledLocked(w *Worker) int {
	n := 0
	for _, controller := range r.clients {
		if controller == w {
			n++
		}
	}
	return n
}

// Active returns the active worker, or nil.
func (r *Registration) Active() *Worker {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.active
}

// Waiting returns the installed worker waiting for activation, or nil.
func (r *Registration) Waiting() *Worker {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.waiting
}

// Controller returns the worker controlling the client, or nil.
func (r *Registration) Controller(clientID string) *Worker {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.clients[clientID]
}

// controller returns the worker controlling the client of the request.
// Clients seen for the first time are controlled by the active worker.
func (r *Registration) controller(req *http.Request) *Worker {
	id := clientID(req)
	r.mutex.Lock()
	defer r.mutex.Unlock()
	w, ok := r.clients[id]
	if !ok {
		w = r.active
		r.clients[id] = w
	}
	return w
}

// ClientGone releases a client. A waiting worker is activated
// when the active worker has no clients left.
func (r *Registration) ClientGone(ctx context.Context, clientID string) error {
	r.mutex.Lock()
	delete(r.clients, clientID)
	r.mutex.Unlock()
	return r.promote(ctx)
}

// HandleMessage routes a control message: SKIP_WAITING goes to the waiting worker,
// every other message to the active worker.
func (r *Registration) HandleMessage(ctx context.Context, msg Message) (Reply, error) {
	r.mutex.Lock()
	active, waiting := r.active, r.waiting
	r.mutex.Unlock()

	target := active
	if msg.Type == MessageSkipWaiting {
		target = waiting
		if target == nil {
			r.log.Debug().Msg("No waiting worker, ignoring skip waiting")
			return Reply{Type: msg.Type}, nil
		}
	}
	if target == nil {
		return Reply{}, errors.New(errors.CodeUnavailable, "no active worker")
	}
	return target.HandleMessage(ctx, msg)
}

// ServeHTTP implements the http.Handler interface.
// Requests of clients without a controlling worker go straight to the network.
func (r *Registration) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if w := r.controller(req); w != nil {
		w.ServeHTTP(rw, req)
		return
	}
	r.log.Trace().Str("url", req.URL.String()).Msg("No controlling worker, passing through")
	r.passthrough.ServeHTTP(rw, req)
}

// RoundTrip implements the http.RoundTripper interface.
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if w := r.controller(req); w != nil {
		return w.RoundTrip(req)
	}
	outreq := req.Clone(req.Context())
	outreq.RequestURI = ""
	r.passthrough.Director(outreq)
	return r.passthrough.Transport.RoundTrip(outreq)
}

func clientID(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return id
	}
	return getRequestSourceIp(r)
}

func createDirector(origin *url.URL) func(req *http.Request) {
	return func(req *http.Request) {
		if req.URL.IsAbs() || origin.Host == "" {
			return
		}
		req.URL.Scheme = origin.Scheme
		req.URL.Host = origin.Host
		req.Host = origin.Host
	}
}
