package app

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// newHTTPClient returns the client shared by suggestion and descriptor
// fetches. Suggestion rounds fan out to every engine at once, so the pool
// is sized per host rather than globally. Each fetch.Client applies its own
// per-request timeout; overall is the hard ceiling.
func newHTTPClient(sslVerify bool, overall time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if !sslVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if overall <= 0 {
		overall = 60 * time.Second
	}
	return &http.Client{
		Transport: transport,
		Timeout:   overall,
	}
}
