// Package metrics exposes the Prometheus instrumentation shared by the
// backtester, the live engine and the HTTP API.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder wraps every collector the platform emits. A nil Recorder is
// valid and records nothing, so components can run uninstrumented.
type Recorder struct {
	backtestsTotal   prometheus.Counter
	backtestDuration prometheus.Histogram
	barsProcessed    prometheus.Counter
	signalsTotal     *prometheus.CounterVec
	tradesOpened     *prometheus.CounterVec
	tradesClosed     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	engineScans      prometheus.Counter
	notifications    *prometheus.CounterVec
	wsClients        prometheus.Gauge
}

// New creates a Recorder registered on reg. Binaries pass
// prometheus.DefaultRegisterer; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		backtestsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "callisto_backtests_total",
			Help: "Total number of backtests run",
		}),
		backtestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callisto_backtest_duration_seconds",
			Help:    "Wall time per backtest run",
			Buckets: prometheus.DefBuckets,
		}),
		barsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "callisto_bars_processed_total",
			Help: "Total number of bars fed through the backtester",
		}),
		signalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callisto_signals_total",
			Help: "Total number of entry signals emitted",
		}, []string{"strategy", "side"}),
		tradesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callisto_trades_opened_total",
			Help: "Total number of positions opened",
		}, []string{"symbol", "side"}),
		tradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callisto_trades_closed_total",
			Help: "Total number of positions closed",
		}, []string{"symbol", "reason"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callisto_http_requests_total",
			Help: "Total number of HTTP requests served",
		}, []string{"method", "path", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callisto_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		engineScans: f.NewCounter(prometheus.CounterOpts{
			Name: "callisto_engine_scans_total",
			Help: "Total number of engine scan cycles",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callisto_notifications_total",
			Help: "Total number of notification deliveries",
		}, []string{"channel", "outcome"}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "callisto_websocket_clients",
			Help: "Currently connected WebSocket clients",
		}),
	}
}

// RecordBacktest records one completed backtest run.
func (r *Recorder) RecordBacktest(seconds float64) {
	if r == nil {
		return
	}
	r.backtestsTotal.Inc()
	r.backtestDuration.Observe(seconds)
}

// RecordBarsProcessed adds to the processed-bar count.
func (r *Recorder) RecordBarsProcessed(n int) {
	if r == nil {
		return
	}
	r.barsProcessed.Add(float64(n))
}

// RecordSignal records an entry signal from a strategy.
func (r *Recorder) RecordSignal(strategy, side string) {
	if r == nil {
		return
	}
	r.signalsTotal.WithLabelValues(strategy, side).Inc()
}

// RecordTradeOpened records a position being opened.
func (r *Recorder) RecordTradeOpened(symbol, side string) {
	if r == nil {
		return
	}
	r.tradesOpened.WithLabelValues(symbol, side).Inc()
}

// RecordTradeClosed records a position being closed with its exit reason.
func (r *Recorder) RecordTradeClosed(symbol, reason string) {
	if r == nil {
		return
	}
	r.tradesClosed.WithLabelValues(symbol, reason).Inc()
}

// RecordHTTPRequest records one served request.
func (r *Recorder) RecordHTTPRequest(method, path string, status int, seconds float64) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordEngineScan records one scan cycle of the live engine.
func (r *Recorder) RecordEngineScan() {
	if r == nil {
		return
	}
	r.engineScans.Inc()
}

// RecordNotification records a notification delivery attempt.
func (r *Recorder) RecordNotification(channel string, ok bool) {
	if r == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	r.notifications.WithLabelValues(channel, outcome).Inc()
}

// RecordWSConnect records a WebSocket client attaching to the stream.
func (r *Recorder) RecordWSConnect() {
	if r == nil {
		return
	}
	r.wsClients.Inc()
}

// RecordWSDisconnect records a WebSocket client detaching.
func (r *Recorder) RecordWSDisconnect() {
	if r == nil {
		return
	}
	r.wsClients.Dec()
}
