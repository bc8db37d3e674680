package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the supervisor's Prometheus metrics. Everything
// registers on a private registry, so independent instances never
// collide and tests can construct collectors freely.
type Collector struct {
	registry *prometheus.Registry

	linesTotal        prometheus.Counter
	errorsTotal       prometheus.Counter
	warningsTotal     prometheus.Counter
	matchesTotal      prometheus.Counter
	dispatchesSent    prometheus.Counter
	dispatchesSkipped prometheus.Counter
	restartsTotal     prometheus.Counter
	promotionsTotal   prometheus.Counter

	workerUp          prometheus.Gauge
	consecutiveErrors prometheus.Gauge

	latencyMs prometheus.Histogram
}

// NewCollector creates a collector with all supervisor metrics registered
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		linesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pitboss_log_lines_total",
			Help: "Total number of worker log lines processed",
		}),
		errorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pitboss_log_errors_total",
			Help: "Total number of error-level log lines",
		}),
		warningsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pitboss_log_warnings_total",
			Help: "Total number of warn-level log lines",
		}),
		matchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pitboss_pattern_matches_total",
			Help: "Total number of error-signature matches",
		}),
		dispatchesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "pitboss_dispatches_sent_total",
			Help: "Total number of escalations delivered to the issue tracker",
		}),
		dispatchesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pitboss_dispatches_skipped_total",
			Help: "Total number of escalations suppressed (dedup, threshold, or no executor)",
		}),
		restartsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pitboss_worker_restarts_total",
			Help: "Total number of worker process restarts",
		}),
		promotionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pitboss_telemetry_promotions_total",
			Help: "Total number of telemetry snapshots promoted to feed reports",
		}),
		workerUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pitboss_worker_up",
			Help: "1 when the worker process is running, 0 otherwise",
		}),
		consecutiveErrors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pitboss_worker_consecutive_errors",
			Help: "Current count of consecutive worker errors without a success",
		}),
		latencyMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pitboss_request_latency_ms",
			Help:    "Request latencies extracted from worker log lines, in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),
	}
}

// RecordLine records one processed log line
func (c *Collector) RecordLine() {
	c.linesTotal.Inc()
}

// RecordError records an error-level line
func (c *Collector) RecordError() {
	c.errorsTotal.Inc()
}

// RecordWarning records a warn-level line
func (c *Collector) RecordWarning() {
	c.warningsTotal.Inc()
}

// RecordMatch records an error-signature match
func (c *Collector) RecordMatch() {
	c.matchesTotal.Inc()
}

// RecordDispatchSent records a delivered escalation
func (c *Collector) RecordDispatchSent() {
	c.dispatchesSent.Inc()
}

// RecordDispatchSkipped records a suppressed escalation
func (c *Collector) RecordDispatchSkipped() {
	c.dispatchesSkipped.Inc()
}

// RecordRestart records a worker restart
func (c *Collector) RecordRestart() {
	c.restartsTotal.Inc()
}

// RecordPromotion records a promoted telemetry snapshot
func (c *Collector) RecordPromotion() {
	c.promotionsTotal.Inc()
}

// ObserveLatency records an extracted request latency in milliseconds
func (c *Collector) ObserveLatency(ms float64) {
	c.latencyMs.Observe(ms)
}

// SetWorkerUp updates the worker liveness gauge
func (c *Collector) SetWorkerUp(up bool) {
	if up {
		c.workerUp.Set(1)
	} else {
		c.workerUp.Set(0)
	}
}

// SetConsecutiveErrors updates the consecutive-error gauge
func (c *Collector) SetConsecutiveErrors(n int) {
	c.consecutiveErrors.Set(float64(n))
}

// Handler returns an HTTP handler exposing this collector's registry in
// Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
