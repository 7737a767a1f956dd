// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus instrumentation for the agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsPublished counts records successfully handed to the broker.
	RecordsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagerstream_records_published_total",
		Help: "Total number of records published to the broker",
	})

	// PublishFailures counts publish attempts that failed and triggered a restart.
	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagerstream_publish_failures_total",
		Help: "Total number of failed publish attempts",
	})

	// LinesParsed counts decoded lines fed through the parser, by shape.
	LinesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerstream_lines_parsed_total",
		Help: "Total number of decoded lines parsed, by line shape",
	}, []string{"shape"}) // "fielded" or "fallback"

	// LinesDiscarded counts lines dropped before parsing.
	LinesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerstream_lines_discarded_total",
		Help: "Total number of lines discarded before parsing, by reason",
	}, []string{"reason"}) // "blank" or "banner"

	// PipelineRestarts counts full pipeline restart cycles, by trigger.
	PipelineRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerstream_pipeline_restarts_total",
		Help: "Total number of pipeline restart cycles, by trigger",
	}, []string{"trigger"}) // "publish_error" or "stream_error"

	// BrokerConnectAttempts counts broker dial attempts, by result.
	BrokerConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerstream_broker_connect_attempts_total",
		Help: "Total number of broker connection attempts, by result",
	}, []string{"result"})

	// DecoderStarts counts decoder pipeline starts, by result.
	DecoderStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerstream_decoder_starts_total",
		Help: "Total number of decoder pipeline starts, by result",
	}, []string{"result"})

	// ProcTerminations counts subprocess termination signals, by signal and outcome.
	ProcTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerstream_proc_terminations_total",
		Help: "Total number of subprocess termination signals sent, by signal and outcome",
	}, []string{"signal", "outcome"})

	// AuditWriteFailures counts swallowed audit-sink write failures.
	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagerstream_audit_write_failures_total",
		Help: "Total number of best-effort audit sink write failures",
	})

	// PublishDuration tracks the latency of broker publish calls.
	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagerstream_publish_duration_seconds",
		Help:    "Latency of broker publish calls",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)

// IncProcTerminate records a termination signal outcome.
func IncProcTerminate(signal, outcome string) {
	ProcTerminations.WithLabelValues(signal, outcome).Inc()
}

// IncBrokerConnect records a broker dial outcome.
func IncBrokerConnect(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	BrokerConnectAttempts.WithLabelValues(result).Inc()
}

// IncDecoderStart records a decoder pipeline start outcome.
func IncDecoderStart(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	DecoderStarts.WithLabelValues(result).Inc()
}
