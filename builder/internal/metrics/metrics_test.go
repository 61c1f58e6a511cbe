package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadMonitor(t *testing.T) {
	m := NewDownloadMonitor()
	m.ObserveFile("model0", 1024, 2*time.Second)
	m.ObserveFile("model0", 2048, time.Second)
	m.ObserveFile("model1", 10, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.filesCounterVec.WithLabelValues("model0")))
	assert.Equal(t, 3072.0, testutil.ToFloat64(m.bytesCounterVec.WithLabelValues("model0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesCounterVec.WithLabelValues("model1")))

	const want = `
# HELP fine_tuning_env_model_downloaded_bytes_total Number of bytes of model files downloaded.
# TYPE fine_tuning_env_model_downloaded_bytes_total counter
fine_tuning_env_model_downloaded_bytes_total{model_id="model0"} 3072
fine_tuning_env_model_downloaded_bytes_total{model_id="model1"} 10
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "fine_tuning_env_model_downloaded_bytes_total")
	assert.NoError(t, err)
}

func TestWriteToTextfile(t *testing.T) {
	m := NewDownloadMonitor()
	m.ObserveFile("model0", 1, time.Second)
	m.ObserveCompleted("model0", time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "download.prom")
	require.NoError(t, m.WriteToTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `fine_tuning_env_model_downloaded_files_total{model_id="model0"} 1`)
	assert.Contains(t, string(b), `fine_tuning_env_model_download_completed_timestamp_seconds{model_id="model0"} 1.7e+09`)
}
