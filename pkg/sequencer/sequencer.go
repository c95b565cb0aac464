// Package sequencer is the C7 sequencer: it composes the C6 stage engine's
// individual stages into the ALL pipeline, with two timed waiters
// (check_for_wfs, wait_for_backup) bridging the gaps between them.
package sequencer

import (
	"context"
	"time"

	"github.com/consultant-1379/backup-scheduler/pkg/log"
	"github.com/consultant-1379/backup-scheduler/pkg/notify"
	"github.com/consultant-1379/backup-scheduler/pkg/outcome"
	"github.com/consultant-1379/backup-scheduler/pkg/stage"
	"github.com/consultant-1379/backup-scheduler/pkg/types"
)

// checkForWfsRetryWait is the fixed spacing between check_for_wfs
// iterations.
const checkForWfsRetryWait = 120 * time.Second

// waitForBackupInitialSleep lets the backup workflow appear on the LCM
// before the first RUNNING poll.
const waitForBackupInitialSleep = 30 * time.Second

// waitForBackupPollInterval is the inner-loop RUNNING poll spacing.
const waitForBackupPollInterval = 300 * time.Second

// Sequencer wraps a stage Engine with the waiters that bridge KEY/RETENTION
// and CHECK, implementing §4.7 of the design.
type Sequencer struct {
	Engine   *stage.Engine
	Notifier notify.Notifier

	// sleep is overridable in tests to avoid real wall-clock waits.
	sleep func(time.Duration)
}

// New wraps engine with production wall-clock sleeping.
func New(engine *stage.Engine, n notify.Notifier) *Sequencer {
	return &Sequencer{Engine: engine, Notifier: n, sleep: time.Sleep}
}

func (s *Sequencer) doSleep(d time.Duration) {
	if s.sleep != nil {
		s.sleep(d)
		return
	}
	time.Sleep(d)
}

// CheckForWfs waits until no blocking storage workflows are running
// anywhere in the fleet and this tenancy itself has no active workflows, or
// until max_start_delay elapses. An Indeterminate STORAGE_WF result is
// treated as "quiet" rather than as a blocker, since an unreachable storage
// layer cannot itself be a reason to withhold a backup. An Indeterminate
// ALL_WF result is not: it waits and retries like a Fail.
func (s *Sequencer) CheckForWfs(ctx context.Context, rules []types.BlockingRule) bool {
	logger := log.WithComponent("sequencer")
	deadline := time.Now().Add(s.Engine.Global.Timers.MaxStartDelay)

	for {
		storageOk := true
		if !s.Engine.Global.SkipAllCheck {
			o, info := s.Engine.StorageWf(ctx, rules)
			switch o {
			case outcome.Fail:
				storageOk = false
			case outcome.Indeterminate:
				logger.Warn().Str("info", info).Msg("storage-workflow check indeterminate, treating fleet as quiet")
				storageOk = true
			default:
				storageOk = true
			}
		}

		if storageOk {
			o, _ := s.Engine.AllWf(ctx)
			if o == outcome.Ok {
				return true
			}
		}

		if time.Now().After(deadline) {
			return false
		}
		logger.Info().Msg("fleet not yet quiet, waiting to retry")
		s.doSleep(checkForWfsRetryWait)
	}
}

// WaitForBackup polls RUNNING until the backup workflow leaves the active
// state, returning Ok. Three consecutive Indeterminate observations
// return Indeterminate: the stage engine cannot currently tell the
// difference between "backup still running" and "LCM unreachable" reliably
// enough to keep waiting blindly. When the inner max_duration bound is hit
// without a terminal RUNNING==false, fail_long_backup decides whether the
// sequencer gives up (Fail) or warns and keeps polling indefinitely.
func (s *Sequencer) WaitForBackup(ctx context.Context) outcome.Outcome {
	logger := log.WithComponent("sequencer")
	s.doSleep(waitForBackupInitialSleep)

	for {
		deadline := time.Now().Add(s.Engine.Global.Timers.MaxDuration)
		consecutiveIndeterminate := 0

		for time.Now().Before(deadline) {
			o, info := s.Engine.Running(ctx)
			switch o {
			case outcome.Fail:
				return outcome.Ok
			case outcome.Indeterminate:
				consecutiveIndeterminate++
				logger.Warn().Str("info", info).Int("consecutive", consecutiveIndeterminate).Msg("RUNNING indeterminate")
				if consecutiveIndeterminate >= 3 {
					return outcome.Indeterminate
				}
			default:
				consecutiveIndeterminate = 0
			}
			s.doSleep(waitForBackupPollInterval)
		}

		if s.Engine.Global.FailLongBackup {
			return outcome.Fail
		}
		s.Notifier.Notify("wait_for_backup", "backup workflow exceeded max_duration, continuing to wait", true, true, s.engineInfo())
		logger.Warn().Msg("max_duration exceeded, fail_long_backup is not set: continuing to poll")
	}
}

func (s *Sequencer) engineInfo() notify.Info {
	return notify.Info{
		Customer: s.Engine.Tenancy.Name,
		Tag:      s.Engine.State.Tag,
		ID:       s.Engine.State.BackupID,
		LCMHost:  s.Engine.Tenancy.LCMHost,
	}
}

// Run executes the full ALL pipeline: KEY, wait-for-quiet, RETENTION,
// BACKUP, wait-for-backup, CHECK, VALIDATE, METADATA, FLAG, short-circuiting
// on the first non-Ok result.
func (s *Sequencer) Run(ctx context.Context, rules []types.BlockingRule) outcome.Outcome {
	logger := log.WithComponent("sequencer")

	keyOutcome, keyInfo := s.Engine.KEY(ctx)
	if keyOutcome != outcome.Ok {
		logger.Error().Str("stage", "KEY").Str("info", keyInfo).Msg("sequence aborted")
		return keyOutcome
	}

	if !s.CheckForWfs(ctx, rules) {
		logger.Error().Str("stage", "wait-for-quiet").Msg("sequence aborted: fleet never went quiet")
		return outcome.Fail
	}

	step := func(name string, o outcome.Outcome, info string) outcome.Outcome {
		if o != outcome.Ok {
			logger.Error().Str("stage", name).Str("info", info).Msg("sequence aborted")
		}
		return o
	}

	if o, info := s.Engine.Retention(ctx); step("RETENTION", o, info) != outcome.Ok {
		return o
	}

	if o, info := s.Engine.Backup(ctx); step("BACKUP", o, info) != outcome.Ok {
		return o
	}

	if o := s.WaitForBackup(ctx); o != outcome.Ok {
		logger.Error().Str("stage", "wait-for-backup").Msg("sequence aborted")
		return o
	}

	if o, info := s.Engine.Check(ctx); step("CHECK", o, info) != outcome.Ok {
		return o
	}

	if o, info := s.Engine.Validate(ctx); step("VALIDATE", o, info) != outcome.Ok {
		return o
	}

	if o, info := s.Engine.Metadata(ctx); step("METADATA", o, info) != outcome.Ok {
		return o
	}

	if o, info := s.Engine.Flag(ctx); step("FLAG", o, info) != outcome.Ok {
		return o
	}

	logger.Info().Msg("sequence completed successfully")
	return outcome.Ok
}
