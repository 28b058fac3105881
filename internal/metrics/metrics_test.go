package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounters(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordBacktest(0.25)
	r.RecordBacktest(1.5)
	if got := testutil.ToFloat64(r.backtestsTotal); got != 2 {
		t.Errorf("backtests_total = %v, want 2", got)
	}

	r.RecordBarsProcessed(500)
	r.RecordBarsProcessed(250)
	if got := testutil.ToFloat64(r.barsProcessed); got != 750 {
		t.Errorf("bars_processed_total = %v, want 750", got)
	}

	r.RecordSignal("ema_crossover", "LONG")
	r.RecordSignal("ema_crossover", "LONG")
	r.RecordSignal("ema_crossover", "SHORT")
	if got := testutil.ToFloat64(r.signalsTotal.WithLabelValues("ema_crossover", "LONG")); got != 2 {
		t.Errorf("signals_total{LONG} = %v, want 2", got)
	}

	r.RecordTradeOpened("BTCUSDT", "LONG")
	r.RecordTradeClosed("BTCUSDT", "TP1")
	if got := testutil.ToFloat64(r.tradesOpened.WithLabelValues("BTCUSDT", "LONG")); got != 1 {
		t.Errorf("trades_opened_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.tradesClosed.WithLabelValues("BTCUSDT", "TP1")); got != 1 {
		t.Errorf("trades_closed_total = %v, want 1", got)
	}

	r.RecordEngineScan()
	if got := testutil.ToFloat64(r.engineScans); got != 1 {
		t.Errorf("engine_scans_total = %v, want 1", got)
	}
}

func TestRecorderHTTP(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordHTTPRequest("GET", "/api/v1/runs", 200, 0.01)
	r.RecordHTTPRequest("GET", "/api/v1/runs", 200, 0.02)
	r.RecordHTTPRequest("POST", "/api/v1/backtest", 500, 0.5)

	if got := testutil.ToFloat64(r.httpRequests.WithLabelValues("GET", "/api/v1/runs", "200")); got != 2 {
		t.Errorf("http_requests_total{GET 200} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.httpRequests.WithLabelValues("POST", "/api/v1/backtest", "500")); got != 1 {
		t.Errorf("http_requests_total{POST 500} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(r.httpDuration); got != 2 {
		t.Errorf("http duration series = %d, want 2", got)
	}
}

func TestRecorderNotificationsAndClients(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordNotification("telegram", true)
	r.RecordNotification("telegram", false)
	r.RecordNotification("telegram", false)
	if got := testutil.ToFloat64(r.notifications.WithLabelValues("telegram", "ok")); got != 1 {
		t.Errorf("notifications{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.notifications.WithLabelValues("telegram", "error")); got != 2 {
		t.Errorf("notifications{error} = %v, want 2", got)
	}

	r.RecordWSConnect()
	r.RecordWSConnect()
	r.RecordWSDisconnect()
	if got := testutil.ToFloat64(r.wsClients); got != 1 {
		t.Errorf("websocket_clients = %v, want 1", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.RecordBacktest(1)
	r.RecordBarsProcessed(10)
	r.RecordSignal("s", "LONG")
	r.RecordTradeOpened("BTCUSDT", "LONG")
	r.RecordTradeClosed("BTCUSDT", "SL")
	r.RecordHTTPRequest("GET", "/", 200, 0.1)
	r.RecordEngineScan()
	r.RecordNotification("telegram", true)
	r.RecordWSConnect()
	r.RecordWSDisconnect()
}
