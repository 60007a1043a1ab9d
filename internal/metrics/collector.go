// Package nfmetrics exposes the driver's link and transport counters as
// Prometheus metrics.
package nfmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "nfeth"
	subsystem = "tbsp"
)

// labelOutcome distinguishes successful from failed reset handshakes.
const labelOutcome = "outcome"

// -------------------------------------------------------------------------
// Collector — Driver Metrics
// -------------------------------------------------------------------------

// Collector holds all driver Prometheus metrics. It implements the link
// and transport stats interfaces, so one Collector can be handed to both
// layers.
type Collector struct {
	// FramesSent counts transmitted Ethernet frames.
	FramesSent prometheus.Counter

	// FramesReceived counts accepted inbound frames.
	FramesReceived prometheus.Counter

	// FramesFiltered counts inbound frames rejected by the
	// MAC/Ethertype filter.
	FramesFiltered prometheus.Counter

	// BytesSent counts transmitted frame bytes, padding included.
	BytesSent prometheus.Counter

	// BytesReceived counts accepted inbound payload bytes.
	BytesReceived prometheus.Counter

	// ResetAttempts counts RESET+REQ handshake rounds.
	ResetAttempts prometheus.Counter

	// Resets counts completed reset handshakes, labeled by outcome.
	Resets *prometheus.CounterVec

	// StreamResends counts bytes retransmitted after a stream shortfall.
	StreamResends prometheus.Counter

	// StaleFrames counts DATA frames dropped for carrying already
	// consumed bytes.
	StaleFrames prometheus.Counter

	// SleepBias reports the calibrated sleep overshoot in microseconds.
	SleepBias prometheus.Gauge
}

// NewCollector creates a Collector with all driver metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
//
// All metrics carry the "nfeth_tbsp_" prefix (namespace_subsystem) to
// avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.FramesSent,
		c.FramesReceived,
		c.FramesFiltered,
		c.BytesSent,
		c.BytesReceived,
		c.ResetAttempts,
		c.Resets,
		c.StreamResends,
		c.StaleFrames,
		c.SleepBias,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Collector{
		FramesSent:     counter("frames_sent_total", "Ethernet frames transmitted to the device."),
		FramesReceived: counter("frames_received_total", "Inbound frames accepted by the MAC/Ethertype filter."),
		FramesFiltered: counter("frames_filtered_total", "Inbound frames rejected by the MAC/Ethertype filter."),
		BytesSent:      counter("bytes_sent_total", "Frame bytes transmitted, padding included."),
		BytesReceived:  counter("bytes_received_total", "Payload bytes accepted from the device."),
		ResetAttempts:  counter("reset_attempts_total", "RESET+REQ handshake rounds transmitted."),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resets_total",
			Help:      "Completed reset handshakes by outcome.",
		}, []string{labelOutcome}),
		StreamResends: counter("stream_resend_bytes_total", "Bytes retransmitted after a send-stream shortfall."),
		StaleFrames:   counter("stale_frames_total", "DATA frames dropped as retransmits of consumed bytes."),
		SleepBias: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sleep_bias_microseconds",
			Help:      "Calibrated overshoot of the pre-send sleep primitive.",
		}),
	}
}

// -------------------------------------------------------------------------
// Stats Interface Implementations
// -------------------------------------------------------------------------

// FrameSent records one transmitted frame.
func (c *Collector) FrameSent(bytes int) {
	c.FramesSent.Inc()
	c.BytesSent.Add(float64(bytes))
}

// FrameReceived records one accepted inbound frame.
func (c *Collector) FrameReceived(bytes int) {
	c.FramesReceived.Inc()
	c.BytesReceived.Add(float64(bytes))
}

// FrameFiltered records one rejected inbound frame.
func (c *Collector) FrameFiltered() {
	c.FramesFiltered.Inc()
}

// SleepBiasCalibrated records the measured sleep overshoot.
func (c *Collector) SleepBiasCalibrated(us float64) {
	c.SleepBias.Set(us)
}

// ResetAttempted records one handshake round.
func (c *Collector) ResetAttempted() {
	c.ResetAttempts.Inc()
}

// ResetCompleted records the outcome of a full reset call.
func (c *Collector) ResetCompleted(ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	c.Resets.WithLabelValues(outcome).Inc()
}

// StreamResent records a send-stream shortfall.
func (c *Collector) StreamResent(bytes int) {
	c.StreamResends.Add(float64(bytes))
}

// StaleDropped records one stale DATA frame.
func (c *Collector) StaleDropped() {
	c.StaleFrames.Inc()
}
