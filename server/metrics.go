package server

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/owenthereal/ptyhost/host/api"
	"github.com/owenthereal/ptyhost/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricNamespace = "ptyhost"
	metricSubsystem = "host"
)

var (
	HostInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "info",
			Help:      "Info about the running ptyhost",
		}, []string{
			"version",
			"os",
		})
)

func init() {
	prometheus.MustRegister(HostInfo)
	HostInfo.WithLabelValues(version.String(), runtime.GOOS).Set(1)
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(api.Health{
		Status:  "ok",
		Version: version.String(),
	})
}
