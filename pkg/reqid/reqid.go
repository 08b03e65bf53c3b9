// Package reqid carries a request id from the Gateway's public edge through
// the Orchestrator's internal RPCs down to the function invocation log line,
// following the request id header the original Python gateway/orchestrator
// pair threads through every hop (no OpenTelemetry SDK: this core never pulls
// one in, so a single header is the propagation mechanism).
package reqid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the header name carrying the request id across services.
const Header = "X-Esb-Request-Id"

type ctxKey struct{}

// New generates a fresh request id.
func New() string {
	return uuid.NewString()
}

// WithContext returns a copy of ctx carrying id.
func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request id carried on ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// FromRequest returns the incoming request id header, or a freshly
// generated one if the caller didn't set it (e.g. a direct client, not
// another esb service).
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(Header); id != "" {
		return id
	}
	return New()
}
