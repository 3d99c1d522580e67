package addrindex

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusIndexed            prometheus.Counter
	prometheusDeindexed          prometheus.Counter
	prometheusEvicted            prometheus.Counter
	prometheusExtractionFailures prometheus.Counter
	prometheusTransactions       prometheus.Gauge
	prometheusAddresses          prometheus.Gauge
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "addrindex",
		Name:      "indexed_transactions_total",
		Help:      "Number of transactions added to the address index",
	})
	prometheusDeindexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "addrindex",
		Name:      "deindexed_transactions_total",
		Help:      "Number of deindex operations that completed",
	})
	prometheusEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "addrindex",
		Name:      "evicted_transactions_total",
		Help:      "Number of transactions dropped after outliving the transaction lifetime",
	})
	prometheusExtractionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "addrindex",
		Name:      "extraction_failures_total",
		Help:      "Number of index/deindex operations aborted by the address resolver",
	})
	prometheusTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "addrindex",
		Name:      "transactions",
		Help:      "Number of transactions currently indexed",
	})
	prometheusAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "addrindex",
		Name:      "address_entries",
		Help:      "Number of per-address record lists in the spend and output indices",
	})
}
