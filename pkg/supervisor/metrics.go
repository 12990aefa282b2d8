package supervisor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskmaster/pkg/logger"
)

var (
	spawnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmaster_spawn_total",
			Help: "Total number of replicas spawned per program.",
		},
		[]string{"program"},
	)
	exitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmaster_exit_total",
			Help: "Total number of reaped replica exits per program.",
		},
		[]string{"program", "kind"},
	)
	restartCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmaster_restart_total",
			Help: "Total number of policy driven restarts per program.",
		},
		[]string{"program", "reason"},
	)
	replicaGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskmaster_replicas",
			Help: "Live replica count per program.",
		},
		[]string{"program"},
	)
	reloadCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmaster_reload_total",
			Help: "Total number of configuration reloads.",
		},
	)
)

func init() {
	prometheus.MustRegister(spawnCounter, exitCounter, restartCounter, replicaGauge, reloadCounter)
}

// StartMetricsServer 在给定地址上暴露/metrics，addr为空则不启动
func StartMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log := logger.Logging("metrics")
		log.Infof("Metrics listening on %s", addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err)
		}
	}()

	return server
}
