package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOutcomeSetsExactlyOneLabelToOne(t *testing.T) {
	outcomes := []string{"Ok", "Fail", "Indeterminate"}
	RecordOutcome("dummy", "CHECK", "Fail", outcomes)

	assert.Equal(t, 0.0, testutilValue(t, StageOutcome.WithLabelValues("dummy", "CHECK", "Ok")))
	assert.Equal(t, 1.0, testutilValue(t, StageOutcome.WithLabelValues("dummy", "CHECK", "Fail")))
	assert.Equal(t, 0.0, testutilValue(t, StageOutcome.WithLabelValues("dummy", "CHECK", "Indeterminate")))
}

func TestWriteTextfileProducesReadableFile(t *testing.T) {
	RecordOutcome("dummy", "KEY", "Ok", []string{"Ok", "Fail", "Indeterminate"})

	path := filepath.Join(t.TempDir(), "backup_stages.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backup_stage_outcome")
}

func testutilValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}
