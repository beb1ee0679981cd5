package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics is the engine's Prometheus surface. Each instance owns its
// registry so tests and replays do not collide on the default one.
type Metrics struct {
	Registry *prometheus.Registry

	SignalsTotal    *prometheus.CounterVec
	DecisionsTotal  *prometheus.CounterVec
	VetoesTotal     *prometheus.CounterVec
	OrdersTotal     *prometheus.CounterVec
	ExecSeconds     prometheus.Histogram
	Committed       prometheus.Gauge
	Bankroll        prometheus.Gauge
	DailyPnL        prometheus.Gauge
	OpenPositions   prometheus.Gauge
	OracleExposure  prometheus.Gauge
	Halted          prometheus.Gauge
	DisputedMarkets prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_signals_total", Help: "Signals by terminal outcome"},
			[]string{"terminal"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_decisions_total", Help: "Candidate decisions by terminal outcome"},
			[]string{"terminal"},
		),
		VetoesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_vetoes_total", Help: "Rejections by reason"},
			[]string{"reason"},
		),
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_orders_total", Help: "Order intents dispatched by side and result"},
			[]string{"side", "result"},
		),
		ExecSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_execute_seconds",
			Help:    "Executor round trip",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Committed:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "arbiter_committed_usd", Help: "Capital committed across events"}),
		Bankroll:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "arbiter_bankroll_usd", Help: "Bankroll including realized P&L"}),
		DailyPnL:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "arbiter_daily_pnl_usd", Help: "Realized P&L since UTC midnight"}),
		OpenPositions:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "arbiter_open_positions", Help: "Open and pending positions"}),
		OracleExposure:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "arbiter_oracle_exposure_usd", Help: "Exposure to oracle-resolved markets"}),
		Halted:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "arbiter_halted", Help: "1 while the kill switch is halted"}),
		DisputedMarkets: prometheus.NewGauge(prometheus.GaugeOpts{Name: "arbiter_disputed_markets", Help: "Markets under dispute"}),
	}
	m.Registry.MustRegister(
		m.SignalsTotal, m.DecisionsTotal, m.VetoesTotal, m.OrdersTotal, m.ExecSeconds,
		m.Committed, m.Bankroll, m.DailyPnL, m.OpenPositions, m.OracleExposure,
		m.Halted, m.DisputedMarkets,
	)
	return m
}

// Set writes a decimal into a gauge.
func Set(g prometheus.Gauge, v decimal.Decimal) {
	f, _ := v.Float64()
	g.Set(f)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
