package metrics

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	childUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "muther",
		Name:      "child_up",
		Help:      "Liveness of supervised children (1=running, 0=exited).",
	}, []string{"child"})

	childSpawns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "muther",
		Name:      "child_spawns_total",
		Help:      "Total number of successful child launches.",
	}, []string{"child"})

	childExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "muther",
		Name:      "child_exits_total",
		Help:      "Observed child exits by terminal state.",
	}, []string{"child", "state"})

	forceKills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "muther",
		Name:      "child_force_kills_total",
		Help:      "Children force-killed after their grace period elapsed.",
	}, []string{"child"})

	shutdownDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "muther",
		Name:      "shutdown_duration_seconds",
		Help:      "Wall-clock duration of the shutdown sequence in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "muther",
		Name:      "build_info",
		Help:      "Build metadata for the running muther binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(childUp, childSpawns, childExits, forceKills, shutdownDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all muther metrics.
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ChildSpawned records a successful launch.
func ChildSpawned(child string) {
	if child == "" {
		return
	}
	childSpawns.WithLabelValues(child).Inc()
	childUp.WithLabelValues(child).Set(1)
}

// ChildExited records an observed exit in the given terminal state.
func ChildExited(child, state string) {
	if child == "" {
		return
	}
	childExits.WithLabelValues(child, state).Inc()
	childUp.WithLabelValues(child).Set(0)
}

// ChildForceKilled increments the force-kill counter for a child.
func ChildForceKilled(child string) {
	if child == "" {
		return
	}
	forceKills.WithLabelValues(child).Inc()
	childUp.WithLabelValues(child).Set(0)
}

// ObserveShutdown records how long a shutdown sequence took.
func ObserveShutdown(d time.Duration) {
	shutdownDuration.Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetChild clears all series recorded for a child.
func ResetChild(child string) {
	if child == "" {
		return
	}
	childUp.DeleteLabelValues(child)
	childSpawns.DeleteLabelValues(child)
	forceKills.DeleteLabelValues(child)
	childExits.DeletePartialMatch(prometheus.Labels{"child": child})
}
