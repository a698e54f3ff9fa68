package observability

import (
    "net/http"
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"
)

// Metrics holds the prometheus instruments for one process. Instruments are
// registered once on the default registry; every endpoint shares them.
type Metrics struct {
    PacketsIn      prometheus.Counter
    PacketsOut     prometheus.Counter
    PacketsDropped *prometheus.CounterVec
    Retransmits    prometheus.Counter
    ActiveSessions prometheus.Gauge
    Disconnects    *prometheus.CounterVec
}

var (
    metricsOnce sync.Once
    metricsInst *Metrics
)

// GetMetrics returns the process-wide metrics, creating them on first use.
func GetMetrics() *Metrics {
    metricsOnce.Do(func() {
        metricsInst = &Metrics{
            PacketsIn: promauto.NewCounter(prometheus.CounterOpts{
                Namespace: "gridlink",
                Name:      "packets_in_total",
                Help:      "Total datagrams received",
            }),
            PacketsOut: promauto.NewCounter(prometheus.CounterOpts{
                Namespace: "gridlink",
                Name:      "packets_out_total",
                Help:      "Total datagrams sent",
            }),
            PacketsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
                Namespace: "gridlink",
                Name:      "packets_dropped_total",
                Help:      "Datagrams dropped before delivery",
            }, []string{"cause"}),
            Retransmits: promauto.NewCounter(prometheus.CounterOpts{
                Namespace: "gridlink",
                Name:      "retransmits_total",
                Help:      "Guaranteed frames retransmitted",
            }),
            ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
                Namespace: "gridlink",
                Name:      "active_sessions",
                Help:      "Live sessions in the session table",
            }),
            Disconnects: promauto.NewCounterVec(prometheus.CounterOpts{
                Namespace: "gridlink",
                Name:      "disconnects_total",
                Help:      "Session disconnects by reason",
            }, []string{"reason"}),
        }
    })
    return metricsInst
}

// ServeDebug serves prometheus metrics on addr ("/metrics") in a background
// goroutine. Empty addr disables the listener.
func ServeDebug(addr string) {
    if addr == "" {
        return
    }
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.Handler())
    go func() {
        if err := http.ListenAndServe(addr, mux); err != nil {
            zap.L().Warn("debug listener stopped", zap.String("addr", addr), zap.Error(err))
        }
    }()
}
