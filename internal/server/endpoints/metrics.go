package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/screenocr/internal/svcctx"
)

// MetricsEndpoint handles GET /metrics in the Prometheus exposition format.
type MetricsEndpoint struct{}

func (e *MetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/metrics", e.handler
}

func (e *MetricsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Prometheus metrics
//	@Description	Model load and inference counters, histograms and gauges.
//	@Tags			health
//	@Produce		plain
//	@Success		200	{string}	string
//	@Router			/metrics [get]
func (e *MetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec := svcctx.MetricsFrom(r.Context())
	if rec == nil {
		writeFailure(w, http.StatusServiceUnavailable, "metrics not enabled")
		return
	}
	rec.Handler().ServeHTTP(w, r)
}

// Command returns nil; scrape /metrics with Prometheus or curl.
func (e *MetricsEndpoint) Command(_ func() string) *cobra.Command {
	return nil
}
