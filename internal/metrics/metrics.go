// Package metrics holds the Prometheus counters recorded by the scanners.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for git and filesystem scans.
type Metrics struct {
	// Git history
	CommitsScannedTotal      prometheus.Counter
	MergeCommitsSkippedTotal prometheus.Counter

	// Filesystem
	FilesScannedTotal prometheus.Counter

	// Shared
	LinesScannedTotal    *prometheus.CounterVec
	FindingsTotal        *prometheus.CounterVec
	PathAllowlistedTotal *prometheus.CounterVec
	ScanDuration         *prometheus.HistogramVec
}

// Default returns the metrics registered on the default Prometheus
// registerer. Registration happens once per process.
//
// Metrics:
//   - rootle_commits_scanned_total - non-merge commits diffed
//   - rootle_merge_commits_skipped_total - merge commits skipped
//   - rootle_files_scanned_total - files read by the filesystem scanner
//   - rootle_lines_scanned_total{scanner} - lines passed to the match engine
//   - rootle_findings_total{scanner,reason} - findings kept
//   - rootle_path_allowlisted_total{reason} - findings dropped by a path allowlist
//   - rootle_scan_duration_seconds{scanner} - wall time per scan
func Default() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = New(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// New registers a fresh set of metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommitsScannedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rootle_commits_scanned_total",
				Help: "Total number of non-merge commits diffed",
			},
		),

		MergeCommitsSkippedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rootle_merge_commits_skipped_total",
				Help: "Total number of merge commits skipped",
			},
		),

		FilesScannedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rootle_files_scanned_total",
				Help: "Total number of files scanned",
			},
		),

		LinesScannedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rootle_lines_scanned_total",
				Help: "Total number of lines passed to the match engine",
			},
			[]string{"scanner"}, // "git" or "fs"
		),

		FindingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rootle_findings_total",
				Help: "Total number of findings kept",
			},
			[]string{"scanner", "reason"},
		),

		PathAllowlistedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rootle_path_allowlisted_total",
				Help: "Total number of findings dropped by a path allowlist",
			},
			[]string{"reason"},
		),

		ScanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rootle_scan_duration_seconds",
				Help:    "Duration of a scan in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~44min
			},
			[]string{"scanner"},
		),
	}
}

// RecordLines records lines handed to the match engine.
func (m *Metrics) RecordLines(scanner string, n int) {
	m.LinesScannedTotal.WithLabelValues(scanner).Add(float64(n))
}

// RecordFinding records a kept finding.
func (m *Metrics) RecordFinding(scanner, reason string) {
	m.FindingsTotal.WithLabelValues(scanner, reason).Inc()
}

// RecordPathAllowlisted records a finding dropped by a path allowlist.
func (m *Metrics) RecordPathAllowlisted(reason string) {
	m.PathAllowlistedTotal.WithLabelValues(reason).Inc()
}

// ObserveScan records the duration of a completed scan.
func (m *Metrics) ObserveScan(scanner string, seconds float64) {
	m.ScanDuration.WithLabelValues(scanner).Observe(seconds)
}

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format, for the node_exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
