package http

import (
	"net/http"
	"path"

	"github.com/prometheus/client_golang/prometheus"

	"tileproxy/internal/metrics"
)

// Routes wires the endpoints and middleware. /metrics is only mounted when
// metrics are enabled and a gatherer is given.
func (h *Handlers) Routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.HandleHealth)
	if h.config.MetricsEnabled && gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(gatherer))
	}
	mux.HandleFunc("/", h.HandleTile)

	// ServeMux redirects non-canonical paths; those are not tile routes, so
	// they go straight to HandleTile and get its 404.
	dispatch := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path.Clean(r.URL.Path) != r.URL.Path {
			h.HandleTile(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	return h.CORSMiddleware(h.RequestLoggingMiddleware(h.RecoverMiddleware(dispatch)))
}
