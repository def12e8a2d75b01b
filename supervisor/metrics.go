package supervisor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/msg"
	"github.com/bec-fabric/bec/queue"
)

// Metrics is the small set of gauges/counters SPEC_FULL's domain stack
// names for component M: queue depth, alarm counts, scan throughput.
// Grounded on the teacher pack's own promauto.NewGaugeVec/NewCounterVec
// idiom (estuary-flow's network/metrics.go) rather than a hand-rolled
// stats struct.
type Metrics struct {
	QueueDepth     *prometheus.GaugeVec
	AlarmsUnhandled *prometheus.GaugeVec
	ScansCompleted prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bec_queue_depth",
			Help: "number of pending queue items, by queue name",
		}, []string{"queue"}),
		AlarmsUnhandled: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bec_alarms_unhandled",
			Help: "number of unhandled alarms at or above a severity",
		}, []string{"severity"}),
		ScansCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bec_scans_completed_total",
			Help: "total number of scans that reached COMPLETED",
		}),
	}
}

// SampleQueue snapshots q's pending depth into the queue-name label.
func (m *Metrics) SampleQueue(queueName string, q *queue.Queue) {
	m.QueueDepth.WithLabelValues(queueName).Set(float64(len(q.Snapshot())))
}

// SampleAlarms snapshots h's unhandled-alarm count at the given
// severity label.
func (m *Metrics) SampleAlarms(severityLabel string, h *alarm.Handler, minSeverity msg.AlarmSeverity) {
	m.AlarmsUnhandled.WithLabelValues(severityLabel).Set(float64(len(h.Unhandled(minSeverity))))
}

// Handler returns the /metrics HTTP handler, served over plain net/http
// rather than fasthttp - promhttp.Handler() targets net/http, and the
// teacher pack's own prometheus usage wires it the same way.
func (m *Metrics) Handler() http.Handler { return promhttp.Handler() }
