package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rhythmflow_build_info",
			Help: "Always 1; labels identify the running build.",
		},
		[]string{"version", "commit", "go_version"},
	)
	buildInfoOnce sync.Once
)

// InitBuildInfo publishes rhythmflow_build_info. An empty commit falls back to
// the VCS revision stamped by the Go toolchain, then to "unknown".
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() { prometheus.MustRegister(buildInfo) })
	info, _ := debug.ReadBuildInfo()
	buildInfo.WithLabelValues(version, resolveCommit(commit, info), runtime.Version()).Set(1)
}

func resolveCommit(commit string, info *debug.BuildInfo) string {
	if commit != "" && commit != "dev" {
		return commit
	}
	if info != nil {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				if len(s.Value) > 12 {
					return s.Value[:12]
				}
				return s.Value
			}
		}
	}
	if commit != "" {
		return commit
	}
	return "unknown"
}
