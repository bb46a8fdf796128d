package serverbridge

import "github.com/prometheus/client_golang/prometheus"

// metrics counts Liquid payments across their lifecycle, per
// SPEC_FULL.md §4.4's Domain Stack addition.
type metrics struct {
	cosigned  prometheus.Counter
	forwarded prometheus.Counter
	confirmed prometheus.Counter
	failed    prometheus.Counter
	revoked   prometheus.Counter
}

func newMetrics() *metrics {
	namespace := "bridge_liquid"
	return &metrics{
		cosigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "htlc_cosigned_total",
			Help: "Number of liquid htlc cosign requests fulfilled.",
		}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "payments_forwarded_total",
			Help: "Number of liquid payments forwarded to the sidechain.",
		}),
		confirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "payments_confirmed_total",
			Help: "Number of liquid payments confirmed on the sidechain.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "payments_failed_total",
			Help: "Number of liquid payments that failed to forward or confirm.",
		}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "htlc_revoked_total",
			Help: "Number of liquid htlc revocation packages cosigned.",
		}),
	}
}

// MustRegister registers m's counters against reg. New calls it with the
// Registerer its caller passes in, which may be a registry separate from
// the go-grpc-prometheus interceptor's default registerer.
func (m *metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.cosigned, m.forwarded, m.confirmed, m.failed, m.revoked)
}
