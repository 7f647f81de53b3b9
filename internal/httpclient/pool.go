// Package httpclient provides the pooled HTTP client shared by the recognition
// client and the asset fetcher.
package httpclient

import (
	"net/http"
	"time"
)

const (
	MaxIdleConns        = 20
	MaxIdleConnsPerHost = 10
	IdleConnTimeout     = 90 * time.Second
)

var pooledTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        MaxIdleConns,
	MaxIdleConnsPerHost: MaxIdleConnsPerHost,
	IdleConnTimeout:     IdleConnTimeout,
}

// New returns a client over the shared transport. Per-request deadlines are
// carried by the request context, so the client itself has no timeout.
func New() *http.Client {
	return &http.Client{Transport: pooledTransport}
}
