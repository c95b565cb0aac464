// Package stage is the C6 stage engine: it implements the ten individually
// invocable stages with their side effects, each returning a three-valued
// outcome.Outcome plus a short human-readable info string used as the mail
// body and as the dispatcher's success/failure log line.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/consultant-1379/backup-scheduler/pkg/blocking"
	"github.com/consultant-1379/backup-scheduler/pkg/credential"
	"github.com/consultant-1379/backup-scheduler/pkg/log"
	"github.com/consultant-1379/backup-scheduler/pkg/notify"
	"github.com/consultant-1379/backup-scheduler/pkg/outcome"
	"github.com/consultant-1379/backup-scheduler/pkg/remoteexec"
	"github.com/consultant-1379/backup-scheduler/pkg/types"
	"github.com/consultant-1379/backup-scheduler/pkg/workflow"
)

// Engine holds everything one tenancy's stage run needs: its own config,
// the full tenancy map (STORAGE_WF looks across all of them), the shared
// collaborators, and the per-invocation RunState that stage calls read and
// write.
type Engine struct {
	Tenancy   types.TenancyConfig
	Tenancies map[string]types.TenancyConfig
	Global    types.GlobalConfig
	State     *types.RunState

	Runner     *remoteexec.Runner
	Credential *credential.Resolver
	Notifier   notify.Notifier

	// NewClient builds a workflow client for an LCM host; overridable in
	// tests.
	NewClient func(lcmHost string) *workflow.Client
}

// NewEngine wires an Engine from its collaborators with the production
// workflow client factory.
func NewEngine(global types.GlobalConfig, tenancy types.TenancyConfig, tenancies map[string]types.TenancyConfig, runner *remoteexec.Runner, cred *credential.Resolver, n notify.Notifier, state *types.RunState) *Engine {
	return &Engine{
		Tenancy:    tenancy,
		Tenancies:  tenancies,
		Global:     global,
		State:      state,
		Runner:     runner,
		Credential: cred,
		Notifier:   n,
		NewClient:  workflow.NewClient,
	}
}

func (e *Engine) info() notify.Info {
	return notify.Info{
		Customer: e.Tenancy.Name,
		Tag:      e.State.Tag,
		ID:       e.State.BackupID,
		LCMHost:  e.Tenancy.LCMHost,
	}
}

// KEY ensures a usable SSH key for this tenancy's LCM host.
func (e *Engine) KEY(ctx context.Context) (outcome.Outcome, string) {
	o := e.Credential.EnsureKey(ctx, e.info(), e.Tenancy.LCMHost, e.Tenancy.ENMKeyPath, e.Tenancy.KeystoneRC)
	return o, fmt.Sprintf("ensure_key for %s", e.Tenancy.Name)
}

// StorageWf fetches a workflow snapshot for every configured tenancy,
// builds the count vector V, and applies the blocking rules. A tenancy
// whose LCM fails to respond yields a per-tenancy skip with a warning; it
// does not by itself fail the stage.
func (e *Engine) StorageWf(ctx context.Context, rules []types.BlockingRule) (outcome.Outcome, string) {
	logger := log.WithStage("STORAGE_WF")

	byTenancy := make(map[string][]types.WorkflowRecord)
	for name, t := range e.Tenancies {
		client := e.NewClient(t.LCMHost)
		snap, ok := client.Snapshot(ctx)
		if !ok {
			logger.Warn().Str("tenancy", name).Msg("LCM did not respond, skipping tenancy for this check")
			continue
		}
		byTenancy[name] = workflow.ActiveStorageWfs(snap)
	}

	v := blocking.CountVector(byTenancy)
	if !blocking.Evaluate(rules, v) {
		return outcome.Fail, "blocking workflow rules violated"
	}
	return outcome.Ok, "no blocking workflows across the fleet"
}

// AllWf fetches a snapshot for this tenancy only.
func (e *Engine) AllWf(ctx context.Context) (outcome.Outcome, string) {
	client := e.NewClient(e.Tenancy.LCMHost)
	snap, ok := client.Snapshot(ctx)
	if !ok {
		return outcome.Indeterminate, "failed to fetch workflow snapshot"
	}
	if len(workflow.Active(snap)) == 0 {
		return outcome.Ok, "no active workflows"
	}
	return outcome.Fail, "active workflows present"
}

// Retention writes the configured retention value to consul on the LCM.
func (e *Engine) Retention(ctx context.Context) (outcome.Outcome, string) {
	cmd := fmt.Sprintf("consul kv put enm/applications/bur/services/backup/retention_value %d", e.Global.RetentionValue)
	res := e.Runner.SSHExec(ctx, e.Tenancy.ENMKeyPath, "cloud-user", e.Tenancy.LCMHost, cmd)
	if res.Ok() {
		return outcome.Ok, "retention value set"
	}
	e.Notifier.Notify("retention", "failed to set retention value", false, true, e.info())
	return outcome.Fail, "failed to set retention value"
}

// backupIDPattern is the substring BACKUP scans for in the external
// backup_cmd's stdout.
const backupIDPattern = "Backup workflow requested with"

type structuredBackupLine struct {
	InstanceID string `json:"instanceId"`
}

// parseBackupID extracts the backup_id from the external backup command's
// stdout. It accepts a structured JSON line with instanceId as a
// forward-compatible alternative to the human-readable "Backup workflow
// requested with <id>." line, per design note 9.
func parseBackupID(stdout string) (string, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var structured structuredBackupLine
		if err := json.Unmarshal([]byte(line), &structured); err == nil && structured.InstanceID != "" {
			return structured.InstanceID, true
		}
	}
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, backupIDPattern) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		id := strings.TrimSuffix(fields[len(fields)-1], ".")
		if id != "" {
			return id, true
		}
	}
	return "", false
}

// Backup triggers the external backup script and parses the backup_id from
// its stdout. If no backup_id line is found, the stage is Fail even when
// the script exited 0: exit-0-without-id is never promoted to success
// (design note 9).
func (e *Engine) Backup(ctx context.Context) (outcome.Outcome, string) {
	if e.State.Tag == "" {
		e.State.Tag = e.getBackupTag(ctx)
	}

	cmdline := fmt.Sprintf("%s --lcm=%s --tag=%s --stdout", e.Global.BackupCmd, e.Tenancy.LCMHost, e.State.Tag)
	res := e.Runner.Run(ctx, cmdline, nil)

	id, found := parseBackupID(res.Stdout)
	infoLine := fmt.Sprintf("ID: %s  TAG: %s", orNone(id, found), e.State.Tag)

	if !found {
		e.Notifier.Notify("backup", "backup id not found in external script output", false, true, e.info())
		return outcome.Fail, infoLine
	}
	e.State.BackupID = id
	if !res.Ok() {
		e.Notifier.Notify("backup", "backup script exited non-zero", false, true, e.info())
		return outcome.Fail, infoLine
	}
	return outcome.Ok, infoLine
}

func orNone(id string, found bool) string {
	if !found {
		return "None"
	}
	return id
}

// Running requires backup_id and reports whether the workflow is still
// active.
func (e *Engine) Running(ctx context.Context) (outcome.Outcome, string) {
	if e.State.BackupID == "" {
		return outcome.Fail, "backup_id is required for RUNNING"
	}
	client := e.NewClient(e.Tenancy.LCMHost)
	snap, ok := client.Snapshot(ctx)
	if !ok {
		return outcome.Indeterminate, "failed to fetch workflow snapshot"
	}
	rec, found := workflow.ByID(snap, e.State.BackupID)
	if !found {
		return outcome.Indeterminate, "backup workflow not found in snapshot"
	}
	if rec.TerminalBad() {
		return outcome.Fail, "backup workflow aborted or has an active incident"
	}
	if rec.Active {
		return outcome.Ok, "backup workflow still active"
	}
	return outcome.Fail, "backup workflow no longer active"
}

// Check requires backup_id and classifies the backup workflow's terminal
// state.
func (e *Engine) Check(ctx context.Context) (outcome.Outcome, string) {
	if e.State.BackupID == "" {
		return outcome.Fail, "backup_id is required for CHECK"
	}
	client := e.NewClient(e.Tenancy.LCMHost)
	snap, ok := client.Snapshot(ctx)
	if !ok {
		return outcome.Indeterminate, "failed to fetch workflow snapshot"
	}

	rec, found := workflow.ByID(snap, e.State.BackupID)
	if !found {
		e.Notifier.Notify("check", "backup workflow not found", true, true, e.info())
		return outcome.Indeterminate, "backup workflow not found"
	}
	if rec.TerminalBad() {
		e.Notifier.Notify("check", "backup workflow terminated badly", false, true, e.info())
		return outcome.Fail, "backup workflow terminated badly"
	}
	if rec.Active {
		// The caller should not have advanced to CHECK while the workflow
		// is still active.
		return outcome.Fail, "backup workflow is still active"
	}
	if strings.HasSuffix(rec.EndNodeID, types.BackupSuccessfulSuffix) {
		return outcome.Ok, "backup workflow completed successfully"
	}
	e.Notifier.Notify("check", "backup workflow ended in an unrecognized terminal state", false, true, e.info())
	return outcome.Fail, "backup workflow ended in an unrecognized terminal state"
}

// Validate starts the validation workflow and polls it every 60s until
// max_validation_time elapses or a terminal state is observed.
func (e *Engine) Validate(ctx context.Context) (outcome.Outcome, string) {
	client := e.NewClient(e.Tenancy.LCMHost)

	defs := client.Definitions(ctx)
	instanceID, ok := client.StartValidation(ctx, defs, e.State.Tag)
	if !ok {
		e.Notifier.Notify("validate", "failed to start validation workflow", false, true, e.info())
		return outcome.Fail, "failed to start validation workflow"
	}

	deadline := time.Now().Add(e.Global.Timers.MaxValidationTime)
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return outcome.Indeterminate, "validation polling cancelled"
		case <-ticker.C:
		}

		snap, ok := client.Snapshot(ctx)
		if ok {
			if rec, found := workflow.ByID(snap, instanceID); found {
				switch {
				case rec.EndNodeID == types.ValidateBackupsEnd:
					return outcome.Ok, "validation completed successfully"
				case rec.EndNodeID == types.BackupValidationFailed:
					e.Notifier.Notify("validate", "validation workflow failed", false, true, e.info())
					return outcome.Fail, "validation workflow failed"
				case rec.TerminalBad():
					e.Notifier.Notify("validate", "validation workflow terminated badly", false, true, e.info())
					return outcome.Fail, "validation workflow terminated badly"
				}
			}
		}

		if time.Now().After(deadline) {
			return outcome.Indeterminate, "validation deadline exceeded"
		}
	}
}

// Metadata exports the metadata sidecar locally and transfers it to NFS.
func (e *Engine) Metadata(ctx context.Context) (outcome.Outcome, string) {
	const localFile = "backup.metadata"

	cmd := fmt.Sprintf("%s export --filename %s --rcfile %s --tag %s", e.Global.MetadataCmd, localFile, e.Tenancy.KeystoneRC, e.State.Tag)
	res := e.Runner.Run(ctx, cmd, nil)
	if !res.Ok() || !localFileExists(localFile) {
		e.Notifier.Notify("metadata", "metadata export failed", false, true, e.info())
		return outcome.Fail, "metadata export failed"
	}

	nfs := e.Global.NFS
	dst := fmt.Sprintf("%s/%s/%s/%s", nfs.RootPath, e.Tenancy.DeploymentID, e.State.Tag, localFile)
	scp := e.Runner.SCPPut(ctx, nfs.Key, nfs.User, nfs.Host, localFile, dst)
	if !scp.Ok() {
		e.Notifier.Notify("metadata", "metadata transfer to NFS failed", false, true, e.info())
		return outcome.Fail, "metadata transfer to NFS failed"
	}
	return outcome.Ok, "metadata exported and transferred"
}

// Flag touches the BACKUP_OK success marker on the NFS target.
func (e *Engine) Flag(ctx context.Context) (outcome.Outcome, string) {
	nfs := e.Global.NFS
	path := fmt.Sprintf("%s/%s/%s/BACKUP_OK", nfs.RootPath, e.Tenancy.DeploymentID, e.State.Tag)
	res := e.Runner.SSHExec(ctx, nfs.Key, nfs.User, nfs.Host, "touch "+path)
	if res.Ok() {
		return outcome.Ok, "success marker written"
	}
	e.Notifier.Notify("flag", "failed to write success marker", false, true, e.info())
	return outcome.Fail, "failed to write success marker"
}

// localFileExists reports whether path exists on the local filesystem.
func localFileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// getBackupTag derives the backup tag from the ENM/ISO versions reported by
// consul on the LCM. It never throws: any parse failure falls back to the
// unknown-version form.
func (e *Engine) getBackupTag(ctx context.Context) string {
	res := e.Runner.SSHExec(ctx, e.Tenancy.ENMKeyPath, "cloud-user", e.Tenancy.LCMHost, "consul kv get enm/deployment/enm_version")
	return BuildBackupTag(e.Tenancy.DeploymentID, res.Stdout, time.Now())
}

// BuildBackupTag composes the backup tag string from consul's raw stdout
// and the wall-clock time the tag was generated at. Parses the stdout by
// whitespace: the 2nd token is the ENM version, the 5th (trailing
// character dropped) is the ISO version. Total: never panics, always
// returns a non-empty string.
func BuildBackupTag(deploymentID, consulStdout string, now time.Time) string {
	timestamp := now.Format("20060102_1504")
	fields := strings.Fields(consulStdout)

	if len(fields) < 5 {
		return fmt.Sprintf("%s_unknown_enm_version__%s", deploymentID, timestamp)
	}

	enmVer := strings.ReplaceAll(fields[1], ".", "_")
	isoRaw := fields[4]
	if len(isoRaw) == 0 {
		return fmt.Sprintf("%s_unknown_enm_version__%s", deploymentID, timestamp)
	}
	isoVer := strings.ReplaceAll(isoRaw[:len(isoRaw)-1], ".", "_")

	return fmt.Sprintf("%s_%s_iso_%s__%s", deploymentID, enmVer, isoVer, timestamp)
}
