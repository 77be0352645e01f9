// Package metrics exposes registry and HTTP counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"tweetattest-backend/events"
)

const namespace = "attest"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ClaimsSubmitted prometheus.Counter
	ClaimsResolved  *prometheus.CounterVec
	RewardsPaid     prometheus.Counter
	RewardWeiPaid   prometheus.Counter
	TxReverted      *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ClaimsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_submitted_total",
			Help:      "Claims submitted to the registry",
		}),
		ClaimsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_resolved_total",
			Help:      "Claims resolved, by oracle result",
		}, []string{"result"}),
		RewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_paid_total",
			Help:      "Rewards transferred to claimers",
		}),
		RewardWeiPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_wei_paid_total",
			Help:      "Total reward paid out, in wei",
		}),
		TxReverted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_reverted_total",
			Help:      "Reverted transactions by method and error code",
		}, []string{"method", "code"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status",
		}, []string{"method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		m.ClaimsSubmitted, m.ClaimsResolved, m.RewardsPaid, m.RewardWeiPaid,
		m.TxReverted, m.HTTPRequests, m.HTTPDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Observe updates counters from a registry event. Subscribe it to an events.Bus.
func (m *Metrics) Observe(evt events.Event) {
	switch evt.Type {
	case events.TypeClaimSubmitted:
		m.ClaimsSubmitted.Inc()
	case events.TypeClaimResolved:
		truthful, _ := evt.Data["truthful"].(bool)
		m.ClaimsResolved.WithLabelValues(strconv.FormatBool(truthful)).Inc()
	case events.TypeRewardPaid:
		m.RewardsPaid.Inc()
		if s, ok := evt.Data["amount_wei"].(string); ok {
			if wei, err := decimal.NewFromString(s); err == nil {
				m.RewardWeiPaid.Add(wei.InexactFloat64())
			}
		}
	case events.TypeTxReverted:
		method, _ := evt.Data["method"].(string)
		code, _ := evt.Data["code"].(string)
		m.TxReverted.WithLabelValues(method, code).Inc()
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
