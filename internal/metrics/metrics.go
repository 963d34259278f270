// Package metrics exposes prometheus instruments for the trading loop and executor.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "loop_polls_total", Help: "Trading loop iterations by outcome"},
		[]string{"symbol", "outcome"},
	)
	OracleMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "oracle_misses_total", Help: "Price oracle calls that returned no data"},
		[]string{"symbol", "call"},
	)
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of streamed market ticks ingested"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted by result"},
		[]string{"symbol", "side", "result"},
	)
	LoopMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "loop_mode", Help: "0 while accumulating (buy mode), 1 while disposing (sell mode)"},
		[]string{"symbol"},
	)
	HeldQuantity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "loop_held_quantity", Help: "Base asset quantity currently held"},
		[]string{"symbol"},
	)
	RealizedProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "loop_realized_profit", Help: "Accumulated realised profit in quote currency"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(PollsTotal, OracleMissesTotal, TicksTotal, OrdersTotal, LoopMode, HeldQuantity, RealizedProfit)
}

// Serve starts the /metrics endpoint in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown drains srv, waiting at most timeout. A nil srv is a no-op.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
