// Package metrics holds the prometheus collectors for client sessions and the
// simulated host.
//
// Every Record method is safe on a nil *Collector, so instrumented code never
// has to check whether metrics are enabled.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"simlink/protocol"
)

const namespace = "simlink"

// Collector contains every simlink metric.
type Collector struct {
	FramesSent      *prometheus.CounterVec
	FramesReceived  *prometheus.CounterVec
	PendingRequests prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
	RequestFailures *prometheus.CounterVec
	Exceptions      *prometheus.CounterVec
	Subscriptions   prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to read values without global state.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "frames_sent_total",
				Help:      "Total number of frames written, by opcode",
			},
			[]string{"opcode"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "frames_received_total",
				Help:      "Total number of frames read, by opcode",
			},
			[]string{"opcode"},
		),

		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "pending_requests",
				Help:      "Requests awaiting a correlated reply",
			},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "request_duration_seconds",
				Help:      "Time from request to correlated reply",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),

		RequestFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "request_failures_total",
				Help:      "Requests that ended without a reply, by reason",
			},
			[]string{"reason"},
		),

		Exceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "exceptions_total",
				Help:      "Host exceptions received, by code",
			},
			[]string{"code"},
		),

		Subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "subscriptions",
				Help:      "Active subscriptions",
			},
		),
	}

	if reg != nil {
		for _, col := range c.collectors() {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.FramesSent,
		c.FramesReceived,
		c.PendingRequests,
		c.RequestDuration,
		c.RequestFailures,
		c.Exceptions,
		c.Subscriptions,
	}
}

// RecordFrameSent increments the sent-frame counter for op.
func (c *Collector) RecordFrameSent(op protocol.Opcode) {
	if c == nil {
		return
	}
	c.FramesSent.WithLabelValues(op.String()).Inc()
}

// RecordFrameReceived increments the received-frame counter for op.
func (c *Collector) RecordFrameReceived(op protocol.Opcode) {
	if c == nil {
		return
	}
	c.FramesReceived.WithLabelValues(op.String()).Inc()
}

// AddPending moves the pending request gauge by delta. Sessions sharing a
// Collector each add their own entries and take them away again.
func (c *Collector) AddPending(delta int) {
	if c == nil {
		return
	}
	c.PendingRequests.Add(float64(delta))
}

// RecordRequest observes how long a correlated request of kind took.
func (c *Collector) RecordRequest(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordFailure counts a request that ended with err.
func (c *Collector) RecordFailure(err error) {
	if c == nil || err == nil {
		return
	}
	c.RequestFailures.WithLabelValues(FailureReason(err)).Inc()
}

// RecordException counts a host exception.
func (c *Collector) RecordException(code protocol.ExceptionCode) {
	if c == nil {
		return
	}
	c.Exceptions.WithLabelValues(code.String()).Inc()
}

func (c *Collector) AddSubscriptions(delta int) {
	if c == nil {
		return
	}
	c.Subscriptions.Add(float64(delta))
}

// FailureReason maps an error onto a bounded label value.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrConnectionClosed):
		return "closed"
	case errors.Is(err, protocol.ErrDuplicateIdentifier):
		return "duplicate"
	case errors.Is(err, protocol.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, protocol.ErrUnknownIdentifier):
		return "unknown_id"
	}
	var connErr *protocol.ConnectionError
	if errors.As(err, &connErr) {
		return "connection"
	}
	return "other"
}
