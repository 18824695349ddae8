package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBlocksMined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ganache",
		Name:      "blocks_mined_total",
		Help:      "Number of blocks written to the chain.",
	})

	metricTxsMined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ganache",
		Name:      "transactions_mined_total",
		Help:      "Number of transactions included in a block.",
	})

	metricTxsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ganache",
		Name:      "transactions_failed_total",
		Help:      "Number of included transactions that failed inside the EVM.",
	})

	metricTxsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ganache",
		Name:      "transactions_rejected_total",
		Help:      "Number of transactions the pool refused, by reason.",
	}, []string{"reason"})

	metricMempoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ganache",
		Name:      "mempool_transactions",
		Help:      "Number of transactions in the pool.",
	})

	metricSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ganache",
		Name:      "snapshots",
		Help:      "Number of live snapshots.",
	})
)
