package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/womat/debug"
)

// runMetrics serves the prometheus registry on its own listener, kept apart
// from the application web server.
func (app *App) runMetrics() {
	if app.config.Metrics.Listen == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	debug.InfoLog.Printf("metrics listening on %s", app.config.Metrics.Listen)
	err := http.ListenAndServe(app.config.Metrics.Listen, mux)
	debug.ErrorLog.Print(err)
}
