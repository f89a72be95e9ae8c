package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glowdesk",
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	holdAcquire = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glowdesk",
			Name:      "hold_acquire_total",
			Help:      "Count of hold acquisition attempts by result.",
		},
		[]string{"result"},
	)

	liveHolds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "glowdesk",
			Name:      "live_holds",
			Help:      "Current number of non-expired booking holds.",
		},
	)

	slotsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "glowdesk",
			Name:      "availability_slots_returned",
			Help:      "Number of slots returned per availability query.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, holdAcquire, liveHolds, slotsReturned)
	})
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncHoldAcquire(result string) {
	holdAcquire.WithLabelValues(result).Inc()
}

func SetLiveHolds(n int64) {
	liveHolds.Set(float64(n))
}

func ObserveSlotsReturned(n int) {
	slotsReturned.Observe(float64(n))
}
