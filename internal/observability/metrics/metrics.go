package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "serramenti_"

	resultSuccess  = "success"
	resultError    = "error"
	resultRejected = "rejected"
)

var (
	registerOnce sync.Once

	calculationTotal   *prometheus.CounterVec
	calculationLatency *prometheus.HistogramVec
	clampWarnings      prometheus.Counter

	quoteSaveTotal       *prometheus.CounterVec
	quoteSaveLatency     *prometheus.HistogramVec
	quoteFinalizeTotal   *prometheus.CounterVec
	quoteFinalizeLatency *prometheus.HistogramVec
	quoteExportTotal     *prometheus.CounterVec
	quoteExportLatency   *prometheus.HistogramVec

	autosaveTotal *prometheus.CounterVec

	rateTableReloads *prometheus.CounterVec
	rateTableVersion *prometheus.GaugeVec

	storageQueryLatency *prometheus.HistogramVec
)

// Init registers metrics. When db is set, storage gauges are registered too.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		calculationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "calculation_total",
				Help: "Total price calculations by result and error kind",
			},
			[]string{"result", "kind"},
		)
		calculationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "calculation_latency_seconds",
				Help:    "Price calculation latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
			[]string{"result"},
		)
		clampWarnings = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "dimension_clamp_total",
				Help: "Dimensions clamped into a frame envelope",
			},
		)

		quoteSaveTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "quote_save_total",
				Help: "Total quote save operations by mode and result",
			},
			[]string{"mode", "result"},
		)
		quoteSaveLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "quote_save_latency_seconds",
				Help:    "Quote save latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		quoteFinalizeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "quote_finalize_total",
				Help: "Total quote finalize operations by result",
			},
			[]string{"result"},
		)
		quoteFinalizeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "quote_finalize_latency_seconds",
				Help:    "Quote finalize latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		quoteExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "quote_export_total",
				Help: "Total quote export operations by format and result",
			},
			[]string{"format", "result"},
		)
		quoteExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "quote_export_latency_seconds",
				Help:    "Quote export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		autosaveTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "session_autosave_total",
				Help: "Debounced session saves by outcome",
			},
			[]string{"outcome"},
		)

		rateTableReloads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rate_table_reload_total",
				Help: "Rate table snapshot reloads by result",
			},
			[]string{"result"},
		)
		rateTableVersion = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "rate_table_version",
				Help: "Loaded version of each rate table",
			},
			[]string{"table"},
		)

		storageQueryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "storage_query_latency_seconds",
				Help:    "Quote repository call latency in seconds by operation and result",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op", "result"},
		)

		prometheus.MustRegister(
			calculationTotal,
			calculationLatency,
			clampWarnings,
			quoteSaveTotal,
			quoteSaveLatency,
			quoteFinalizeTotal,
			quoteFinalizeLatency,
			quoteExportTotal,
			quoteExportLatency,
			autosaveTotal,
			rateTableReloads,
			rateTableVersion,
			storageQueryLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveCalculation records a calculation. kind is the error kind on failure.
func ObserveCalculation(result, kind string, clamped int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if kind == "" {
		kind = "none"
	}
	if calculationTotal != nil {
		calculationTotal.WithLabelValues(result, kind).Inc()
	}
	if calculationLatency != nil {
		calculationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if clampWarnings != nil && clamped > 0 {
		clampWarnings.Add(float64(clamped))
	}
}

// ObserveQuoteSave records save latency and result. mode is "create" or "draft".
func ObserveQuoteSave(mode, result string, duration time.Duration) {
	if mode == "" {
		mode = "create"
	}
	if result == "" {
		result = resultSuccess
	}
	if quoteSaveTotal != nil {
		quoteSaveTotal.WithLabelValues(mode, result).Inc()
	}
	if quoteSaveLatency != nil {
		quoteSaveLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveQuoteFinalize records finalize latency and result.
func ObserveQuoteFinalize(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if quoteFinalizeTotal != nil {
		quoteFinalizeTotal.WithLabelValues(result).Inc()
	}
	if quoteFinalizeLatency != nil {
		quoteFinalizeLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveQuoteExport records export latency and result.
func ObserveQuoteExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if quoteExportTotal != nil {
		quoteExportTotal.WithLabelValues(format, result).Inc()
	}
	if quoteExportLatency != nil {
		quoteExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncAutosave counts a debounced save outcome.
func IncAutosave(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if autosaveTotal != nil {
		autosaveTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveRateTableReload records a reload and the versions now served.
func ObserveRateTableReload(result string, versions map[string]int) {
	if result == "" {
		result = resultSuccess
	}
	if rateTableReloads != nil {
		rateTableReloads.WithLabelValues(result).Inc()
	}
	if rateTableVersion != nil {
		for table, version := range versions {
			rateTableVersion.WithLabelValues(table).Set(float64(version))
		}
	}
}

// ObserveStorageQuery records one repository call. result is ResultSuccess,
// ResultRejected when the store refused the call for a domain reason, or
// ResultError.
func ObserveStorageQuery(op, result string, duration time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if storageQueryLatency != nil {
		storageQueryLatency.WithLabelValues(op, result).Observe(duration.Seconds())
	}
}

// StorageQueryCount returns how many repository calls were recorded for op
// and result.
func StorageQueryCount(op, result string) uint64 {
	if storageQueryLatency == nil {
		return 0
	}
	obs, err := storageQueryLatency.GetMetricWithLabelValues(op, result)
	if err != nil {
		return 0
	}
	metric, ok := obs.(prometheus.Metric)
	if !ok {
		return 0
	}
	var out dto.Metric
	if err := metric.Write(&out); err != nil {
		return 0
	}
	return out.GetHistogram().GetSampleCount()
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultRejected = resultRejected

	AutosaveApplied = "applied"
	AutosaveStale   = "stale"
	AutosaveFailed  = "failed"
)
