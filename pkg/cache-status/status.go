package cachestatus

import (
	"fmt"
	"net/http"
)

// HeaderName is the response header the status is written to (RFC 9211).
const HeaderName = "Cache-Status"

// CacheName identifies this cache in the Cache-Status header.
const CacheName = "Offline-Cache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache was able to select a response for the request, but
	// the policy prefers a fresh one.
	FwdStale FwdReason = "stale"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", CacheName, cs.Status)
	if cs.Status == StatusFwd && cs.FwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status = status + "; stored"
	}
	if cs.Detail != "" {
		status = status + "; detail=" + cs.Detail
	}
	return status
}

// Apply sets the Cache-Status header on the response, replacing earlier values
// written by this cache.
func (cs CacheStatus) Apply(res *http.Response) {
	if res == nil {
		return
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(HeaderName, cs.String())
}
