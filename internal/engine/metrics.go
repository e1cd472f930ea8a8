package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dunamismax/manipulatr/internal/pipeline"
)

type metrics struct {
	registry     *prometheus.Registry
	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	encodedBytes prometheus.Counter
	outputPixels prometheus.Counter
	documents    *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manipulatr_jobs_total",
			Help: "Total image jobs by transform and final state.",
		}, []string{"transform", "state"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "manipulatr_job_duration_seconds",
			Help:    "Time from job start to final state, including the wait for the image to load.",
			Buckets: prometheus.DefBuckets,
		}, []string{"transform", "state"}),
		encodedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manipulatr_encoded_bytes_total",
			Help: "Total bytes of data URLs swapped into images.",
		}),
		outputPixels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manipulatr_output_pixels_total",
			Help: "Total pixels of transformed surfaces swapped into images.",
		}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manipulatr_documents_total",
			Help: "Total documents scanned, by whether the canvas was available.",
		}, []string{"canvas"}),
	}

	m.registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.encodedBytes,
		m.outputPixels,
		m.documents,
	)
	return m
}

func (m *metrics) observe(out pipeline.Outcome) {
	transform := out.Transform
	if errors.Is(out.Err, pipeline.ErrUnknownTransform) {
		// Unknown names come straight from markup.
		transform = "unregistered"
	}
	state := out.State.String()

	m.jobsTotal.WithLabelValues(transform, state).Inc()
	m.jobDuration.WithLabelValues(transform, state).Observe(out.Duration.Seconds())
	if out.State == pipeline.Swapped {
		m.encodedBytes.Add(float64(out.Bytes))
		m.outputPixels.Add(float64(out.Width * out.Height))
	}
}
