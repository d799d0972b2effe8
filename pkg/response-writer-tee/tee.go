package tee

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"time"
)

// ResponseSaver is a wrapper around http.ResponseWriter that saves the response to a buffer.
// It optionally writes the response to the underlying http.ResponseWriter.
type ResponseSaver struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	body         *bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool
	CreatedAt    time.Time
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	// remember that we wrote the headers
	t.wroteHeaders = true
	// set the status code so we can return it later
	t.status = statusCode
	// write to underlying http.ResponseWriter if not nil
	if t.rw != nil {
		copyHeader(t.rw.Header(), t.header)
		t.rw.WriteHeader(statusCode)
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	// write headers if not already written
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	// write to underlying http.ResponseWriter if not nil
	if t.rw != nil {
		t.rw.Write(b)
	}
	// write to buffer and return written bytes
	return t.body.Write(b)
}

// Response returns the recorded response as HTTP/1.1 bytes.
func (t *ResponseSaver) Response() []byte {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	t.b.Reset()
	t.b.WriteString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", t.status, http.StatusText(t.status)))
	header := t.header.Clone()
	header.Del("Transfer-Encoding")
	header.Set("Content-Length", fmt.Sprint(t.body.Len()))
	header.Write(t.b)
	t.b.WriteString("\r\n")
	t.b.Write(t.body.Bytes())
	return t.b.Bytes()
}

// StatusCode returns the status code of the response.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// NewResponseSaver returns a new ResponseSaver.
// If rw is not nil, the response will be written (tee'd) to it in addition to saving to buffer.
func NewResponseSaver(w http.ResponseWriter) *ResponseSaver {
	return &ResponseSaver{
		CreatedAt: time.Now(),
		rw:        w,
		b:         &bytes.Buffer{},
		body:      &bytes.Buffer{},
		header:    http.Header{},
	}
}

// HandlerTransport is an http.RoundTripper that answers requests with an in-process handler,
// so a handler can act as the network behind the cache.
type HandlerTransport struct {
	Handler http.Handler
}

func (h HandlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rw := NewResponseSaver(nil)
	inbound := req.Clone(req.Context())
	inbound.RequestURI = req.URL.RequestURI()
	if inbound.Host == "" {
		inbound.Host = req.URL.Host
	}
	h.Handler.ServeHTTP(rw, inbound)
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(rw.Response())), req)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
