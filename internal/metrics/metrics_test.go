package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommitsScannedTotal.Inc()
	m.RecordLines("git", 12)
	m.RecordFinding("git", "Email address")
	m.RecordFinding("git", "Email address")
	m.RecordPathAllowlisted("Email address")
	m.ObserveScan("git", 0.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitsScannedTotal))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.LinesScannedTotal.WithLabelValues("git")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FindingsTotal.WithLabelValues("git", "Email address")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PathAllowlistedTotal.WithLabelValues("Email address")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ScanDuration))
}

func TestDefault_RegistersOnce(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.FilesScannedTotal.Add(3)

	path := filepath.Join(t.TempDir(), "rootle.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rootle_files_scanned_total 3")
}
