package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/realmankwon/catalist-oracle/types"
)

var (
	StuckValidators = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalist_stuck_validators",
		Help: "Number of stuck validators by node operator.",
	}, []string{"module_id", "operator_id"})
	ExitedValidators = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalist_exited_validators",
		Help: "Number of exited validators by node operator.",
	}, []string{"module_id", "operator_id"})
	DelayedValidators = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalist_delayed_validators",
		Help: "Number of delayed validators by node operator.",
	}, []string{"module_id", "operator_id"})
	OracleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalist_oracle_events_total",
		Help: "Total number of oracle processing events by name.",
	}, []string{"event"})
)

// Sink exports per-operator validator counts to prometheus. It implements
// the metrics sink consumed by the services package.
type Sink struct{}

func (Sink) SetStuckValidators(gi types.NodeOperatorGlobalIndex, count uint64) {
	moduleID, operatorID := gi.Labels()
	StuckValidators.WithLabelValues(moduleID, operatorID).Set(float64(count))
}

func (Sink) SetExitedValidators(gi types.NodeOperatorGlobalIndex, count uint64) {
	moduleID, operatorID := gi.Labels()
	ExitedValidators.WithLabelValues(moduleID, operatorID).Set(float64(count))
}

func (Sink) SetDelayedValidators(gi types.NodeOperatorGlobalIndex, count uint64) {
	moduleID, operatorID := gi.Labels()
	DelayedValidators.WithLabelValues(moduleID, operatorID).Set(float64(count))
}

func (Sink) ObserveEvent(event string) {
	OracleEvents.WithLabelValues(event).Inc()
}

// Serve serves prometheus metrics on the given address under /metrics
func Serve(addr string) error {
	router := http.NewServeMux()
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
<head><title>prometheus-metrics</title></head>
<body>
<h1>prometheus-metrics</h1>
<p><a href='/metrics'>metrics</a></p>
</body>
</html>`))
	}))
	srv := &http.Server{
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		Handler:      router,
		Addr:         addr,
	}

	return srv.ListenAndServe()
}
