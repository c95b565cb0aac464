// Package dispatch is the C9 dispatcher: it maps a stage keyword to the
// stage engine or sequencer method that implements it, and handles the
// uniform post-run reporting (log line, exit code, generic failure mail)
// every stage invocation shares.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/consultant-1379/backup-scheduler/pkg/blocking"
	"github.com/consultant-1379/backup-scheduler/pkg/log"
	"github.com/consultant-1379/backup-scheduler/pkg/metrics"
	"github.com/consultant-1379/backup-scheduler/pkg/notify"
	"github.com/consultant-1379/backup-scheduler/pkg/outcome"
	"github.com/consultant-1379/backup-scheduler/pkg/sequencer"
	"github.com/consultant-1379/backup-scheduler/pkg/stage"
	"github.com/consultant-1379/backup-scheduler/pkg/types"
)

// outcomeLabels are the label values RecordOutcome zeroes on every run, so
// a textfile scrape always reflects exactly one outcome per stage.
var outcomeLabels = []string{outcome.Ok.String(), outcome.Fail.String(), outcome.Indeterminate.String()}

// Stage keywords accepted by Run, matching the CLI's --stage values.
const (
	KeyStage       = "KEY"
	StorageWfStage = "STORAGE_WF"
	AllWfStage     = "ALL_WF"
	RetentionStage = "RETENTION"
	BackupStage    = "BACKUP"
	RunningStage   = "RUNNING"
	CheckStage     = "CHECK"
	ValidateStage  = "VALIDATE"
	MetadataStage  = "METADATA"
	FlagStage      = "FLAG"
	AllStage       = "ALL"
	WfsStage       = "WFS"
	WaitStage      = "WAIT"
)

// Invocation is the per-call input to Run: the stage keyword and the parsed
// blocking rules. The customer, tag, backup id and mail switch are not part
// of it; they live in the Engine's RunState and the injected Notifier.
type Invocation struct {
	Stage string
	Rules []types.BlockingRule
}

// Dispatcher runs exactly one stage keyword against an Engine/Sequencer
// pair and reports the outcome.
type Dispatcher struct {
	Engine     *stage.Engine
	Sequencer  *sequencer.Sequencer
	Notifier   notify.Notifier
	infoFields func() notify.Info

	// Customer labels the metrics this dispatch run records.
	Customer string
	// MetricsTextfile, when non-empty, is overwritten with this run's
	// metrics in node_exporter textfile-collector format after dispatch.
	MetricsTextfile string
}

// New builds a Dispatcher. infoFields supplies the Customer/Tag/ID/LCMHost
// fields for the generic failure mail.
func New(engine *stage.Engine, seq *sequencer.Sequencer, n notify.Notifier, infoFields func() notify.Info) *Dispatcher {
	return &Dispatcher{Engine: engine, Sequencer: seq, Notifier: n, infoFields: infoFields}
}

// Run executes inv.Stage and returns the process exit code: 0 success, 1
// definite failure, 2 indeterminate. It logs "Stage X Completed
// Successfully" on success, and on Fail sends a generic failure-subject
// mail with a stage-specific body in addition to whatever notification the
// stage itself already sent (see the design notes on double-notification
// for directly dispatched intermediate stages). ALL additionally sends a
// success mail on overall Ok.
func (d *Dispatcher) Run(ctx context.Context, inv Invocation) int {
	logger := log.WithStage(inv.Stage)
	started := time.Now()

	o, info, err := d.call(ctx, inv)
	if err != nil {
		logger.Error().Err(err).Msg("Stage Failed to Run")
		d.Notifier.Notify(inv.Stage, "Stage Failed to Run", false, true, d.infoFields())
		o = outcome.Fail
	} else {
		switch o {
		case outcome.Ok:
			logger.Info().Str("info", info).Msgf("Stage %s Completed Successfully", inv.Stage)
			if inv.Stage == AllStage {
				d.Notifier.Notify(inv.Stage, fmt.Sprintf("Stage %s completed successfully: %s", inv.Stage, info), false, true, d.infoFields())
			}
		case outcome.Fail:
			logger.Error().Str("info", info).Msgf("Stage %s failed", inv.Stage)
			d.Notifier.Notify(inv.Stage, info, false, true, d.infoFields())
		default:
			logger.Error().Str("info", info).Msgf("Stage %s indeterminate", inv.Stage)
		}
	}

	d.recordMetrics(inv.Stage, o, time.Since(started))
	return o.ExitCode()
}

// recordMetrics updates the in-process gauges and, if MetricsTextfile is
// set, flushes them to disk. A flush failure is logged and swallowed: a
// missing metrics file must never itself fail a backup stage.
func (d *Dispatcher) recordMetrics(stageName string, o outcome.Outcome, duration time.Duration) {
	metrics.RecordOutcome(d.Customer, stageName, o.String(), outcomeLabels)
	metrics.StageDurationSeconds.WithLabelValues(d.Customer, stageName).Set(duration.Seconds())
	metrics.LastRunTimestamp.WithLabelValues(d.Customer, stageName).SetToCurrentTime()

	if d.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(d.MetricsTextfile); err != nil {
		log.WithComponent("dispatch").Error().Err(err).Str("path", d.MetricsTextfile).Msg("failed to write metrics textfile")
	}
}

func (d *Dispatcher) call(ctx context.Context, inv Invocation) (o outcome.Outcome, info string, err error) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome.Fail
			info = "Stage Failed to Run"
			err = fmt.Errorf("stage %s panicked: %v", inv.Stage, r)
		}
	}()

	switch inv.Stage {
	case KeyStage:
		o, info = d.Engine.KEY(ctx)
	case StorageWfStage:
		o, info = d.Engine.StorageWf(ctx, inv.Rules)
	case AllWfStage:
		o, info = d.Engine.AllWf(ctx)
	case RetentionStage:
		o, info = d.Engine.Retention(ctx)
	case BackupStage:
		o, info = d.Engine.Backup(ctx)
	case RunningStage:
		o, info = d.Engine.Running(ctx)
	case CheckStage:
		o, info = d.Engine.Check(ctx)
	case ValidateStage:
		o, info = d.Engine.Validate(ctx)
	case MetadataStage:
		o, info = d.Engine.Metadata(ctx)
	case FlagStage:
		o, info = d.Engine.Flag(ctx)
	case AllStage:
		o = d.Sequencer.Run(ctx, inv.Rules)
		info = fmt.Sprintf("ID: %s  TAG: %s", d.Engine.State.BackupID, d.Engine.State.Tag)
	case WfsStage:
		if d.Sequencer.CheckForWfs(ctx, inv.Rules) {
			o, info = outcome.Ok, "fleet is quiet"
		} else {
			o, info = outcome.Fail, "fleet never went quiet within max_start_delay"
		}
	case WaitStage:
		o = d.Sequencer.WaitForBackup(ctx)
		info = fmt.Sprintf("ID: %s", d.Engine.State.BackupID)
	default:
		return outcome.Fail, "", fmt.Errorf("unknown stage keyword %q", inv.Stage)
	}
	return o, info, nil
}

// ParseBlockingRules is a thin alias kept at package level so callers (the
// CLI) don't need to import pkg/blocking just to parse the config's
// blocking_wfs value.
func ParseBlockingRules(spec string) ([]types.BlockingRule, error) {
	return blocking.ParseRules(spec)
}
