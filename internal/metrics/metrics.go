// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "community"

var (
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_calls_total",
		Help:      "Calls made to the channel provider, by operation and result.",
	}, []string{"op", "result"})

	ChannelsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channels_created_total",
		Help:      "Channels created for pairs and groups.",
	}, []string{"scope"})

	OrphanedChannels = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channels_orphaned_total",
		Help:      "Channels created but never recorded because a concurrent writer won.",
	}, []string{"scope"})

	RelayFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_fetches_total",
		Help:      "Message list fetches issued by open conversations.",
	}, []string{"result"})

	OpenConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_open_conversations",
		Help:      "Conversations currently polling the provider.",
	})

	Reminders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_reminders_total",
		Help:      "Session reminders dispatched, by result.",
	}, []string{"result"})

	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "membership_import_rows_total",
		Help:      "Rows processed by bulk membership changes, by outcome.",
	}, []string{"outcome"})
)

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ResultOK maps a success flag to the "result" label value.
func ResultOK(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
