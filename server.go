package offlinecache

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmgilman/go/errors"
)

// DefaultControlPrefix is the path prefix of the control endpoints.
const DefaultControlPrefix = "/_worker"

// NewServer returns a handler exposing the control channel and the notification
// events under the prefix. Every other request is intercepted by the registration.
//
//	POST   {prefix}/messages            control message, replies with the message reply
//	GET    {prefix}/caches              entry count per namespace
//	DELETE {prefix}/caches/{name}       delete a namespace, 404 if it does not exist
//	POST   {prefix}/push                push message, replies with the notification
//	POST   {prefix}/notification-click  {"action": ...}, replies with the URL to open
//	POST   {prefix}/sync                {"tag": ...}, runs the sync hook
//	DELETE {prefix}/clients/{id}        release a client that went away
func NewServer(reg *Registration, prefix string) http.Handler {
	if prefix == "" {
		prefix = DefaultControlPrefix
	}
	s := &server{reg: reg}
	r := chi.NewRouter()
	r.Route(prefix, func(r chi.Router) {
		r.Post("/messages", s.postMessage)
		r.Get("/caches", s.getCaches)
		r.Delete("/caches/{name}", s.deleteCache)
		r.Post("/push", s.push)
		r.Post("/notification-click", s.notificationClick)
		r.Post("/sync", s.sync)
		r.Delete("/clients/{id}", s.deleteClient)
	})
	r.NotFound(reg.ServeHTTP)
	r.MethodNotAllowed(reg.ServeHTTP)
	return r
}

type server struct {
	reg *Registration
}

func (s *server) postMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, errors.Wrap(err, errors.CodeInvalidInput, "invalid message"))
		return
	}
	reply, err := s.reg.HandleMessage(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *server) getCaches(w http.ResponseWriter, r *http.Request) {
	reply, err := s.reg.HandleMessage(r.Context(), Message{Type: MessageGetCacheStatus})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply.Status)
}

func (s *server) deleteCache(w http.ResponseWriter, r *http.Request) {
	reply, err := s.reg.HandleMessage(r.Context(), Message{
		Type:    MessageClearCache,
		Payload: Payload{CacheName: chi.URLParam(r, "name")},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !reply.Found {
		status = http.StatusNotFound
	}
	writeJSON(w, status, reply)
}

func (s *server) push(w http.ResponseWriter, r *http.Request) {
	bridge, err := s.notifications()
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errors.Wrap(err, errors.CodeInvalidInput, "could not read push message"))
		return
	}
	writeJSON(w, http.StatusOK, bridge.Push(r.Context(), string(data)))
}

func (s *server) notificationClick(w http.ResponseWriter, r *http.Request) {
	bridge, err := s.notifications()
	if err != nil {
		writeError(w, err)
		return
	}
	var click struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&click); err != nil && err != io.EOF {
		writeError(w, errors.Wrap(err, errors.CodeInvalidInput, "invalid notification click"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": bridge.NotificationClick(r.Context(), click.Action)})
}

func (s *server) sync(w http.ResponseWriter, r *http.Request) {
	bridge, err := s.notifications()
	if err != nil {
		writeError(w, err)
		return
	}
	var sync struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&sync); err != nil {
		writeError(w, errors.Wrap(err, errors.CodeInvalidInput, "invalid sync event"))
		return
	}
	if err := bridge.Sync(r.Context(), sync.Tag); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.ClientGone(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) notifications() (NotificationBridge, error) {
	active := s.reg.Active()
	if active == nil {
		return nil, errors.New(errors.CodeUnavailable, "no active worker")
	}
	return active.Notifications(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput:
		status = http.StatusBadRequest
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeConflict:
		status = http.StatusConflict
	case errors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errors.ToJSON(err))
}
