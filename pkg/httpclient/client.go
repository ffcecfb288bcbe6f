// Package httpclient builds the *http.Client used by the artifact fetcher
// and result reporters to talk to the coordinator's HTTP API.
package httpclient

import (
	"fmt"
	"maps"
	"net/http"
	"runtime"

	"github.com/saiblo/judge-worker/pkg/version"
)

type options struct {
	header http.Header
}

type Opt func(*options)

// NewHTTPClient builds an *http.Client that stamps a consistent User-Agent
// on every request, regardless of how many other headers are layered on.
func NewHTTPClient(opts ...Opt) *http.Client {
	o := options{header: make(http.Header)}
	for _, opt := range opts {
		opt(&o)
	}

	o.header.Set("User-Agent", fmt.Sprintf("saiblo-judge-worker/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH))

	return &http.Client{
		Transport: &headerTransport{header: o.header, rt: http.DefaultTransport},
	}
}

// WithHeader sets a single static header on every outgoing request.
func WithHeader(key, value string) Opt {
	return func(o *options) {
		o.header.Set(key, value)
	}
}

type headerTransport struct {
	header http.Header
	rt     http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	maps.Copy(r2.Header, t.header)
	return t.rt.RoundTrip(r2)
}
