// Package metrics собирает Prometheus-метрики сервиса в отдельный реестр.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bidpoints"

// Registry хранит коллекторы приложения. Глобальный DefaultRegisterer не трогаем.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	LedgerEntries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "entries_total",
		Help:      "Total ledger entries appended, by kind and source.",
	}, []string{"kind", "source"})

	LedgerPoints = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "points_total",
		Help:      "Total points moved through the ledger, by kind.",
	}, []string{"kind"})

	ReconcileMismatches = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "reconcile_mismatches",
		Help:      "Accounts whose balance differed from the history sum at the last audit.",
	})

	BidsPlaced = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bidding",
		Name:      "bids_placed_total",
		Help:      "Total bids successfully placed.",
	})

	BidsCancelled = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bidding",
		Name:      "bids_cancelled_total",
		Help:      "Total bids cancelled with a refund.",
	})

	BidsClosed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bidding",
		Name:      "bids_closed_total",
		Help:      "Total bids moved to a terminal state by job closure.",
	}, []string{"status"})

	BidRejections = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bidding",
		Name:      "rejections_total",
		Help:      "Bidding operations rejected, by operation and reason.",
	}, []string{"op", "reason"})

	BidRollbacks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bidding",
		Name:      "rollbacks_total",
		Help:      "Compensating refunds issued after a failure past the debit.",
	})

	LockWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "bidding",
		Name:      "lock_wait_seconds",
		Help:      "Time spent acquiring job and account locks.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	httpInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})

	httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
	}, []string{"method", "route"})

	botUpdates = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bot",
		Name:      "commands_total",
		Help:      "Telegram commands processed, by command.",
	}, []string{"command"})
)

func init() {
	Registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Reject учитывает отказ операции. reason: короткий код ошибки.
func Reject(op, reason string) {
	BidRejections.WithLabelValues(op, reason).Inc()
}

// RecordCommand учитывает обработанную команду бота.
func RecordCommand(command string) {
	if command == "" {
		command = "unknown"
	}
	botUpdates.WithLabelValues(command).Inc()
}

// InstrumentHandler оборачивает chi-роутер сбором HTTP-метрик.
// Метка route берётся из шаблона маршрута chi, а не из пути запроса.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
