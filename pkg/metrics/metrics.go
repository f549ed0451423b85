// Package metrics holds the Prometheus instruments of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  prometheus.Histogram
	EmptyTranscripts       prometheus.Counter
	PayloadBytes           prometheus.Histogram

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the instruments on the given registerer. Pass
// prometheus.NewRegistry() in tests to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechpipe_transcription_requests_total",
			Help: "Total number of transcription requests",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechpipe_transcription_successes_total",
			Help: "Total number of transcriptions that produced a result",
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechpipe_transcription_failures_total",
			Help: "Total number of failed transcriptions by failure stage",
		}, []string{"stage"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechpipe_transcription_duration_seconds",
			Help:    "Wall time of one transcription, model load included",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		EmptyTranscripts: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechpipe_empty_transcripts_total",
			Help: "Total number of transcriptions that produced empty text",
		}),
		PayloadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechpipe_payload_bytes",
			Help:    "Size of the uploaded audio payloads",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechpipe_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status code",
		}, []string{"endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speechpipe_http_request_duration_seconds",
			Help:    "HTTP request latency by endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}
