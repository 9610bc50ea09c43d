// Package httpclient builds the shared HTTP client used by action
// runners. The client carries a pooled transport only; per-request
// timeouts come from the target service configuration, so no
// client-level timeout is set here.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// New creates a pooled HTTP client. Connection reuse matters here:
// a run fires many short requests at a small set of hosts, so the
// per-host idle pool is kept large.
func New() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Transport: transport}
}
