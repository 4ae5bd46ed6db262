package capture

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the capture pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	packetsRead      prometheus.Counter
	framesDecoded    prometheus.Counter
	framesEncoded    prometheus.Counter
	framesDropped    prometheus.Counter
	packetsWritten   prometheus.Counter
	bytesWritten     prometheus.Counter
	keyframesWritten prometheus.Counter
	parameterSets    prometheus.Counter
	orderViolations  prometheus.Counter
	errorsTotal      *prometheus.CounterVec
	state            prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics on a private
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		packetsRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_packets_read_total",
			Help: "Total number of packets read from the capture device",
		}),
		framesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_frames_decoded_total",
			Help: "Total number of frames produced by the decoder",
		}),
		framesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_frames_encoded_total",
			Help: "Total number of frames submitted to the encoder",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_frames_dropped_total",
			Help: "Total number of frames dropped because their timestamp did not advance",
		}),
		packetsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_packets_written_total",
			Help: "Total number of encoded packets written to the output",
		}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_bytes_written_total",
			Help: "Total number of encoded bytes written to the output",
		}),
		keyframesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_keyframes_written_total",
			Help: "Total number of keyframe packets written to the output",
		}),
		parameterSets: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_inband_parameter_sets_total",
			Help: "Total number of written packets carrying in-band parameter sets",
		}),
		orderViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_timestamp_order_violations_total",
			Help: "Total number of output packets whose timestamp went backwards",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_errors_total",
			Help: "Total number of pipeline failures by error kind",
		}, []string{"kind"}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_pipeline_state",
			Help: "Current pipeline state (0 idle, 1 source_open, 2 sink_open, 3 streaming, 4 draining, 5 closed, 6 error)",
		}),
	}
}

// Handler returns an http.Handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) incPacketsRead() {
	if m != nil {
		m.packetsRead.Inc()
	}
}

func (m *Metrics) incFramesDecoded() {
	if m != nil {
		m.framesDecoded.Inc()
	}
}

func (m *Metrics) incFramesEncoded() {
	if m != nil {
		m.framesEncoded.Inc()
	}
}

func (m *Metrics) incFramesDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) incParameterSets() {
	if m != nil {
		m.parameterSets.Inc()
	}
}

func (m *Metrics) incOrderViolations() {
	if m != nil {
		m.orderViolations.Inc()
	}
}

func (m *Metrics) observePacket(size int, key bool) {
	if m == nil {
		return
	}
	m.packetsWritten.Inc()
	m.bytesWritten.Add(float64(size))
	if key {
		m.keyframesWritten.Inc()
	}
}

func (m *Metrics) incError(kind string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) setState(s PipelineState) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
