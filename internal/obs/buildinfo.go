package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// buildInfo is a constant 1 gauge labelled with version and commit.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pagehall_build_info",
		Help: "Pagehall API build information.",
	},
	[]string{"version", "commit"},
)

// SetBuildInfo publishes build_info{version,commit} 1. Init must have run.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
