package metrics

import (
	"github.com/aman-churiwal/admission-engine/internal/admission"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus view of admission activity. Subscribed to the engine as a
// decision listener.
type Collector struct {
	requests *prometheus.CounterVec
	denials  *prometheus.CounterVec
}

// NewCollector registers the admission metrics with reg. active feeds
// the in-flight connection gauge.
func NewCollector(reg prometheus.Registerer, active func() int) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_requests_total",
			Help: "Admission decisions by outcome.",
		}, []string{"decision"}),
		denials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_denials_total",
			Help: "Denied requests by reason.",
		}, []string{"reason"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "admission_active_connections",
		Help: "In-flight requests across all users.",
	}, func() float64 {
		return float64(active())
	})

	return c
}

// ObserveDecision implements the engine's decision listener contract.
func (c *Collector) ObserveDecision(dec admission.Decision) {
	if dec.Allowed {
		c.requests.WithLabelValues("allowed").Inc()
		return
	}

	c.requests.WithLabelValues("denied").Inc()
	c.denials.WithLabelValues(string(dec.Denial.Code)).Inc()
}

// Handler exposes the default prometheus registry over gin.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
