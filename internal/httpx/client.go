// Package httpx builds the instrumented HTTP clients used for outbound calls.
package httpx

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewClient returns an http.Client whose transport emits OpenTelemetry spans
// and metrics for every request. A zero timeout means no client timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
