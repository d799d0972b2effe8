package offlinecache

import (
	"net/http"
	"strings"

	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
)

func (w *Worker) logRequest(r *http.Request, res *http.Response) {
	cs := res.Header.Get(cachestatus.HeaderName)
	isHit := 0
	if strings.Contains(cs, "; "+string(cachestatus.StatusHit)) {
		isHit = 1
	}
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", res.StatusCode).
		Str("cacheStatus", cs).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// hop-by-hop headers of the upstream response are not forwarded
		if k == "Connection" || k == "Keep-Alive" || k == "Transfer-Encoding" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
