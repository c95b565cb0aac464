// Package metrics exposes the stage engine's run as Prometheus gauges and
// writes them to a node_exporter textfile-collector file, rather than
// serving /metrics: this binary is a one-shot cron/batch job, not a
// long-running server, so nothing is ever listening long enough to scrape.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	registry = prometheus.NewRegistry()

	// StageOutcome records the outcome of the most recently dispatched
	// stage for a customer, labeled by stage keyword and outcome name: 1 on
	// the observed outcome's series, 0 on the others.
	StageOutcome = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backup_stage_outcome",
			Help: "Outcome of the most recent stage run (1=this outcome occurred, 0 otherwise), by customer, stage, and outcome",
		},
		[]string{"customer", "stage", "outcome"},
	)

	// StageDurationSeconds records how long the dispatched stage took.
	StageDurationSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backup_stage_duration_seconds",
			Help: "Wall-clock duration of the most recently dispatched stage",
		},
		[]string{"customer", "stage"},
	)

	// LastRunTimestamp records when the stage last completed, as a Unix
	// timestamp, so an alerting rule can detect a stuck or skipped cron.
	LastRunTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backup_stage_last_run_timestamp_seconds",
			Help: "Unix timestamp of the most recent stage invocation completion",
		},
		[]string{"customer", "stage"},
	)
)

func init() {
	registry.MustRegister(StageOutcome, StageDurationSeconds, LastRunTimestamp)
}

// RecordOutcome zeroes the other outcome labels for (customer, stage) and
// sets the observed one to 1, so a textfile scrape always reflects exactly
// one outcome per stage rather than accumulating stale series.
func RecordOutcome(customer, stageName, outcomeName string, outcomes []string) {
	for _, o := range outcomes {
		value := 0.0
		if o == outcomeName {
			value = 1.0
		}
		StageOutcome.WithLabelValues(customer, stageName, o).Set(value)
	}
}

// WriteTextfile renders every registered metric in the node_exporter
// textfile-collector format and atomically replaces the file at path: the
// render is written to a sibling temp file first, then renamed, so a
// concurrent scrape never observes a partially written file.
func WriteTextfile(path string) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".metrics-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp metrics file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("encoding metric family %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp metrics file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp metrics file into place: %w", err)
	}
	return nil
}
