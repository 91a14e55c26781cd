// Package metrics exposes Prometheus counters for processed invoices.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"invoiceocr/pkg/models"
)

const namespace = "invoiceocr"

// Recorder holds the pipeline metrics. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	documents   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	corrections *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	quality     *prometheus.HistogramVec
	duration    prometheus.Histogram
}

// NewRecorder creates the metrics on their own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_processed_total",
				Help:      "The total number of documents processed, by outcome.",
			},
			[]string{"outcome"}, // complete, draft, failed
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "The total number of recovered pipeline stage failures.",
			},
			[]string{"stage"},
		),
		corrections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "amount_corrections_total",
				Help:      "The total number of amounts derived or overwritten by reconciliation.",
			},
			[]string{"field"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "The total number of sentinel or generated values used.",
			},
			[]string{"kind"}, // supplier, company, invoice_number, invoice_date
		),
		quality: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "data_quality_score",
				Help:      "Data quality score of assembled invoices.",
				Buckets:   []float64{0.1, 0.25, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
			[]string{"strategy"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_duration_seconds",
				Help:      "Time taken to process one document.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}

	r.registry.MustRegister(r.documents, r.failures, r.corrections, r.fallbacks, r.quality, r.duration)
	return r
}

// ObserveRecord records an assembled invoice
func (r *Recorder) ObserveRecord(rec *models.InvoiceRecord) {
	if r == nil || rec == nil {
		return
	}

	outcome := "complete"
	if rec.IsDraft {
		outcome = "draft"
	}
	r.documents.WithLabelValues(outcome).Inc()
	r.quality.WithLabelValues(rec.Verdict.Strategy).Observe(rec.Verdict.DataQualityScore)
	r.duration.Observe(rec.ProcessingTime.Seconds())

	for _, c := range rec.Corrections {
		r.corrections.WithLabelValues(c.Field).Inc()
	}
	if rec.Supplier.Sentinel {
		r.fallbacks.WithLabelValues("supplier").Inc()
	}
	if rec.Company.Sentinel {
		r.fallbacks.WithLabelValues("company").Inc()
	}
	if rec.InvoiceNumberSource == models.NumberGenerated {
		r.fallbacks.WithLabelValues("invoice_number").Inc()
	}
	if rec.InvoiceDateDefaulted {
		r.fallbacks.WithLabelValues("invoice_date").Inc()
	}
}

// ObserveFailure records a stage failure that was recovered into a minimal record
func (r *Recorder) ObserveFailure(stage string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(stage).Inc()
	r.documents.WithLabelValues("failed").Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
