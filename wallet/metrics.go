package wallet

import "github.com/prometheus/client_golang/prometheus"

// Prometheus collectors for the observable counters/gauges a wallet-hosting
// service typically scrapes: transfer outcomes, receive-pipeline
// classifications, poller give-ups and sync passes. Registration is left to
// the caller (RegisterMetrics) rather than auto-registering against the
// default registry, since a host process may run more than one wallet.
var (
	transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "token_wallet",
		Name:      "transfers_total",
		Help:      "Outgoing transfer attempts by outcome.",
	}, []string{"outcome"})

	receivesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "token_wallet",
		Name:      "receives_total",
		Help:      "Incoming envelopes by classification.",
	}, []string{"kind"})

	pollerGiveUpsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "token_wallet",
		Name:      "poller_giveups_total",
		Help:      "Proof-poller jobs abandoned after exhausting max attempts.",
	})

	activeTokensGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "token_wallet",
		Name:      "active_tokens",
		Help:      "Current size of the active token set.",
	})

	syncDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "token_wallet",
		Name:      "sync_duration_seconds",
		Help:      "Wall-clock duration of a multi-provider sync pass.",
	})
)

// RegisterMetrics registers this package's collectors against reg. Call once
// per process; safe to skip entirely if the host doesn't scrape Prometheus.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{transfersTotal, receivesTotal, pollerGiveUpsTotal, activeTokensGauge, syncDurationSeconds} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
