// Package metrics holds the Prometheus counters shared by the bridge and the
// producer. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "canmqtt"

// Drop reasons used as label values.
const (
	ReasonMalformed     = "malformed"
	ReasonOverflow      = "overflow"
	ReasonDecode        = "decode"
	ReasonUnknownSensor = "unknown_sensor"
	ReasonNoRoute       = "no_route"
	ReasonPublish       = "publish"
)

// Metrics contains the counters of one process.
type Metrics struct {
	Registry *prometheus.Registry

	FramesReceived     *prometheus.CounterVec
	FramesDropped      *prometheus.CounterVec
	FramesSent         *prometheus.CounterVec
	SendFailures       *prometheus.CounterVec
	SubscriberFailures *prometheus.CounterVec
	ReadingsPublished  *prometheus.CounterVec
}

// New creates the counters on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "can",
				Name:      "frames_received_total",
				Help:      "Total number of CAN frames received",
			},
			[]string{"interface"},
		),
		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "can",
				Name:      "frames_dropped_total",
				Help:      "Total number of CAN frames or readings dropped",
			},
			[]string{"interface", "reason"},
		),
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "can",
				Name:      "frames_sent_total",
				Help:      "Total number of CAN frames written",
			},
			[]string{"interface"},
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "can",
				Name:      "send_failures_total",
				Help:      "Total number of CAN frames that could not be written",
			},
			[]string{"interface"},
		),
		SubscriberFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "can",
				Name:      "subscriber_failures_total",
				Help:      "Total number of failed subscriber callbacks",
			},
			[]string{"interface"},
		),
		ReadingsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "readings_published_total",
				Help:      "Total number of sensor readings published",
			},
			[]string{"topic"},
		),
	}

	m.Registry.MustRegister(
		m.FramesReceived,
		m.FramesDropped,
		m.FramesSent,
		m.SendFailures,
		m.SubscriberFailures,
		m.ReadingsPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Received(iface string) {
	if m != nil {
		m.FramesReceived.WithLabelValues(iface).Inc()
	}
}

func (m *Metrics) Dropped(iface, reason string) {
	if m != nil {
		m.FramesDropped.WithLabelValues(iface, reason).Inc()
	}
}

func (m *Metrics) Sent(iface string) {
	if m != nil {
		m.FramesSent.WithLabelValues(iface).Inc()
	}
}

func (m *Metrics) SendFailed(iface string) {
	if m != nil {
		m.SendFailures.WithLabelValues(iface).Inc()
	}
}

func (m *Metrics) SubscriberFailed(iface string) {
	if m != nil {
		m.SubscriberFailures.WithLabelValues(iface).Inc()
	}
}

func (m *Metrics) Published(topic string) {
	if m != nil {
		m.ReadingsPublished.WithLabelValues(topic).Inc()
	}
}

// Serve exposes the registry on addr under /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server listening", "addr", addr, "path", "/metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}
