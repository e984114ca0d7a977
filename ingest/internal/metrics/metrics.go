package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lcdb_ingest_build_info",
		Help: "Build information of the lightcurve ingestor",
	}, []string{"version", "commit", "date"})

	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcdb_ingest_jobs_total", Help: "Merge jobs handled by workers, by result.",
	}, []string{"result"})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lcdb_ingest_queue_depth", Help: "Jobs waiting on the shared work queue.",
	})
	SeriesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcdb_ingest_series_skipped_total", Help: "File series skipped because an identical lightcurve is already stored.",
	})
	Merges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcdb_ingest_merges_total", Help: "Lightcurves merged with an existing record, by source.",
	}, []string{"source"})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcdb_ingest_flushes_total", Help: "Buffer flushes, by result.",
	}, []string{"result"})
	FlushedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcdb_ingest_flushed_rows_total", Help: "Rows written by flushes, by unit.",
	}, []string{"unit"})
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lcdb_ingest_flush_duration_seconds",
		Help:    "Duration of successful flush transactions.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})
	FlushRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcdb_ingest_flush_retries_total", Help: "Flush attempts retried after a transient database error.",
	})
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lcdb_ingest_phase_duration_seconds",
		Help:    "Time spent per job processing phase.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"phase"})

	BufferThreshold = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lcdb_ingest_buffer_threshold", Help: "Current flush threshold in buffered lightcurves.",
	}, []string{"worker"})
	WorkersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lcdb_ingest_workers_running", Help: "Number of ingest workers currently running.",
	})
)
