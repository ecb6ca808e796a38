package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	statusTransitionCounter *prometheus.CounterVec
	processingErrorCounter  *prometheus.CounterVec
	exchangeOutcomeCounter  *prometheus.CounterVec
	lowBalanceCounter       *prometheus.CounterVec
	queueDepthGauge         *prometheus.GaugeVec
	batchSizeHistogram      prometheus.Histogram
	ledgerRefreshCounter    *prometheus.CounterVec
	busMessageCounter       *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
	reconciliationCounter   *prometheus.CounterVec
	deadLetterCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		statusTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_status_transitions_total",
			Help: "Settlement status changes by target status",
		}, []string{"status"})

		processingErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_processing_errors_total",
			Help: "Processing errors attached to payment requests",
		}, []string{"error"})

		exchangeOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_exchange_outcomes_total",
			Help: "Matching engine outcomes for exchange work items",
		}, []string{"outcome"})

		lowBalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_low_balance_total",
			Help: "Admission rejections caused by an insufficient cached balance",
		}, []string{"stage"})

		queueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_queue_depth",
			Help: "Pending items per settlement queue",
		}, []string{"queue"})

		batchSizeHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_market_transfer_batch_size",
			Help:    "Payment requests combined into one market transfer",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		})

		ledgerRefreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_ledger_refresh_total",
			Help: "Balance ledger refresh outcomes",
		}, []string{"result"})

		busMessageCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_bus_messages_total",
			Help: "Bus messages handled by type and result",
		}, []string{"type", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		reconciliationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_reconciliation_actions_total",
			Help: "Repairs and reports made by the reconciliation sweep",
		}, []string{"action"})

		deadLetterCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_queue_dead_letters_total",
			Help: "Undecodable queue items moved to a dead list",
		}, []string{"queue"})

		prometheus.MustRegister(
			httpDurationHistogram,
			statusTransitionCounter,
			processingErrorCounter,
			exchangeOutcomeCounter,
			lowBalanceCounter,
			queueDepthGauge,
			batchSizeHistogram,
			ledgerRefreshCounter,
			busMessageCounter,
			workerRunCounter,
			reconciliationCounter,
			deadLetterCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementStatusTransition(status string) {
	if statusTransitionCounter == nil {
		return
	}
	statusTransitionCounter.WithLabelValues(status).Inc()
}

func IncrementProcessingError(kind string) {
	if processingErrorCounter == nil {
		return
	}
	processingErrorCounter.WithLabelValues(kind).Inc()
}

func IncrementExchangeOutcome(outcome string) {
	if exchangeOutcomeCounter == nil {
		return
	}
	exchangeOutcomeCounter.WithLabelValues(outcome).Inc()
}

func IncrementLowBalance(stage string) {
	if lowBalanceCounter == nil {
		return
	}
	lowBalanceCounter.WithLabelValues(stage).Inc()
}

func SetQueueDepth(queue string, depth int64) {
	if queueDepthGauge == nil {
		return
	}
	queueDepthGauge.WithLabelValues(queue).Set(float64(depth))
}

func ObserveBatchSize(size int) {
	if batchSizeHistogram == nil {
		return
	}
	batchSizeHistogram.Observe(float64(size))
}

func IncrementLedgerRefresh(result string) {
	if ledgerRefreshCounter == nil {
		return
	}
	ledgerRefreshCounter.WithLabelValues(result).Inc()
}

func IncrementBusMessage(msgType, result string) {
	if busMessageCounter == nil {
		return
	}
	busMessageCounter.WithLabelValues(msgType, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementReconciliation(action string) {
	if reconciliationCounter == nil {
		return
	}
	reconciliationCounter.WithLabelValues(action).Inc()
}

func IncrementDeadLetter(queue string) {
	if deadLetterCounter == nil {
		return
	}
	deadLetterCounter.WithLabelValues(queue).Inc()
}
