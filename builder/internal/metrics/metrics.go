package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricNamespace = "fine_tuning_env"

	metricNameDownloadedFiles      = "model_downloaded_files_total"
	metricNameDownloadedBytes      = "model_downloaded_bytes_total"
	metricNameFileDownloadDuration = "model_file_download_duration_seconds"
	metricNameDownloadCompleted    = "model_download_completed_timestamp_seconds"

	metricLabelModelID = "model_id"
)

// durationBuckets are the buckets for file download durations from 100ms to 30 minutes.
var durationBuckets = []float64{
	.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800,
}

// DownloadMonitor holds and updates the Prometheus metrics of model downloads.
type DownloadMonitor struct {
	registry *prometheus.Registry

	filesCounterVec   *prometheus.CounterVec
	bytesCounterVec   *prometheus.CounterVec
	durationHistVec   *prometheus.HistogramVec
	completedGaugeVec *prometheus.GaugeVec
}

// NewDownloadMonitor returns a new DownloadMonitor with its own registry.
func NewDownloadMonitor() *DownloadMonitor {
	labels := []string{metricLabelModelID}
	m := &DownloadMonitor{
		registry: prometheus.NewRegistry(),
		filesCounterVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      metricNameDownloadedFiles,
				Help:      "Number of model files downloaded.",
			},
			labels,
		),
		bytesCounterVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      metricNameDownloadedBytes,
				Help:      "Number of bytes of model files downloaded.",
			},
			labels,
		),
		durationHistVec: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      metricNameFileDownloadDuration,
				Help:      "Time spent downloading a model file.",
				Buckets:   durationBuckets,
			},
			labels,
		),
		completedGaugeVec: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      metricNameDownloadCompleted,
				Help:      "Unix time the model download completed.",
			},
			labels,
		),
	}
	m.registry.MustRegister(
		m.filesCounterVec,
		m.bytesCounterVec,
		m.durationHistVec,
		m.completedGaugeVec,
	)
	return m
}

// ObserveFile records a downloaded file.
func (m *DownloadMonitor) ObserveFile(modelID string, size int64, elapsed time.Duration) {
	m.filesCounterVec.WithLabelValues(modelID).Inc()
	m.bytesCounterVec.WithLabelValues(modelID).Add(float64(size))
	m.durationHistVec.WithLabelValues(modelID).Observe(float64(elapsed) / float64(time.Second))
}

// ObserveCompleted records the completion of a model download.
func (m *DownloadMonitor) ObserveCompleted(modelID string, t time.Time) {
	m.completedGaugeVec.WithLabelValues(modelID).Set(float64(t.Unix()))
}

// Registry returns the registry the metrics are registered to.
func (m *DownloadMonitor) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToTextfile writes the metrics in the text format read by the node exporter textfile collector.
func (m *DownloadMonitor) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
