package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

var (
	buildInfoOnce sync.Once
	buildInfo     = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Constant 1, labelled with the running build.",
	}, []string{"version", "commit", "go_version"})
)

// ResolveBuildInfo fills commit from the embedded VCS stamp when the linker
// did not set one.
func ResolveBuildInfo(version, commit string) BuildInfo {
	bi := BuildInfo{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if bi.Commit != "" && bi.Commit != "dev" {
		return bi
	}
	bi.Commit = "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				bi.Commit = s.Value
				if len(bi.Commit) > 12 {
					bi.Commit = bi.Commit[:12]
				}
			}
		}
	}
	return bi
}

// InitBuildInfo publishes the build_info gauge and returns what it published.
func InitBuildInfo(version, commit string) BuildInfo {
	bi := ResolveBuildInfo(version, commit)
	buildInfoOnce.Do(func() { prometheus.MustRegister(buildInfo) })
	buildInfo.WithLabelValues(bi.Version, bi.Commit, bi.GoVersion).Set(1)
	return bi
}
