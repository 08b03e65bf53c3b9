// Package proxy forwards an authenticated, routed request to a function
// container's address (spec §4.5 step 4), applying invoke_timeout_ms as a
// hard deadline. Grounded on net/http/httputil.ReverseProxy, the idiomatic
// Go equivalent of the teacher's gRPC transparent proxy
// (pkg/leaf/proxy/proxy.go) now that the internal transport is HTTP.
package proxy

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/esb-platform/esb/pkg/esberrors"
)

// Outcome classifies how an invocation ended, for CircuitBreaker and
// host-cache bookkeeping (spec §4.5 steps 5-6).
type Outcome int

const (
	Success Outcome = iota
	Timeout
	ServerError
	NetworkError
)

// Invoke proxies req to address within timeout, returning the outcome and
// any error to propagate to the client.
func Invoke(w http.ResponseWriter, r *http.Request, address string, timeout time.Duration) (Outcome, error) {
	target := &url.URL{Scheme: "http", Host: address}
	rp := httputil.NewSingleHostReverseProxy(target)

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	req := r.WithContext(ctx)

	outcome := Success
	var proxyErr error

	rp.ErrorHandler = func(rw http.ResponseWriter, _ *http.Request, err error) {
		if ctx.Err() == context.DeadlineExceeded {
			outcome = Timeout
			proxyErr = esberrors.ErrUpstreamTimeout
		} else {
			outcome = NetworkError
			proxyErr = esberrors.ErrUpstreamNetworkError
		}
	}

	rp.ModifyResponse = func(resp *http.Response) error {
		if resp.StatusCode >= 500 || resp.Header.Get("X-Amz-Function-Error") != "" {
			outcome = ServerError
			proxyErr = esberrors.ErrUpstreamServerError
			resp.StatusCode = http.StatusBadGateway
			resp.Status = http.StatusText(http.StatusBadGateway)
		}
		return nil
	}

	rp.ServeHTTP(w, req)

	return outcome, proxyErr
}
