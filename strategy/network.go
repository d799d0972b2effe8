package strategy

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jmgilman/go/errors"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// DefaultTimeout bounds a single network fetch.
const DefaultTimeout = 30 * time.Second

// Fetcher sends requests to the network.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Network is a Fetcher backed by an http.RoundTripper.
// The returned responses are fully buffered, so they outlive the fetch timeout.
type Network struct {
	// Transport to use. http.DefaultTransport is used if nil.
	Transport http.RoundTripper
	// Timeout of a single fetch. Zero disables the timeout.
	Timeout time.Duration
}

func (n Network) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	transport := n.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	outreq := req.Clone(ctx)
	outreq.RequestURI = ""
	if outreq.ContentLength == 0 {
		outreq.Body = nil
	}
	res, err := transport.RoundTrip(outreq)
	if err != nil {
		return nil, networkError(err, req)
	}
	// read the body while the context is still alive
	if _, err := serializer.ReadBody(res); err != nil {
		return nil, networkError(err, req)
	}
	return res, nil
}

func networkError(err error, req *http.Request) error {
	code := errors.CodeNetwork
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		code = errors.CodeTimeout
	}
	return errors.WithContext(errors.Wrapf(err, code, "fetch %s failed", req.URL), "method", req.Method)
}

// IsSuccess reports whether the status is 2xx.
func IsSuccess(res *http.Response) bool {
	return res != nil && res.StatusCode >= 200 && res.StatusCode < 300
}
