package apiclient

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient returns an *http.Client with pooled connections and HTTP/2
// enabled for TLS upstreams. It has no overall timeout; each attempt is bounded
// by the context passed to Do.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if h2, err := http2.ConfigureTransports(transport); err == nil {
		h2.ReadIdleTimeout = 30 * time.Second
		h2.PingTimeout = 10 * time.Second
	}

	return &http.Client{Transport: transport}
}
