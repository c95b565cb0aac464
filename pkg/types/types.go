// Package types holds the data model shared across the backup-stages
// components: tenancy and global configuration, per-invocation run state,
// and the workflow snapshot records returned by the remote LCM service.
package types

import "time"

// TenancyConfig is immutable for the lifetime of one invocation.
type TenancyConfig struct {
	Name         string
	DeploymentID string
	LCMHost      string
	ENMKeyPath   string
	KeystoneRC   string
}

// Timers holds the seconds-resolution deadlines derived from the
// "<num>{s|m|h}" duration strings in the [timers] config section.
type Timers struct {
	MaxStartDelay     time.Duration
	MaxDuration       time.Duration
	MaxValidationTime time.Duration
}

// NFSConfig describes the remote NFS target used by METADATA and FLAG.
type NFSConfig struct {
	Host     string
	User     string
	Key      string
	RootPath string
}

// MailConfig describes the outbound notification transport.
type MailConfig struct {
	Enabled   bool
	URL       string
	Recipient string
}

// GlobalConfig is the tenant-independent configuration loaded once per
// invocation from the [general]/[timers]/[nfs]/[mail] sections.
type GlobalConfig struct {
	BackupCmd       string
	MetadataCmd     string
	NFS             NFSConfig
	RetentionValue  int
	BlockingWfRules string
	SkipAllCheck    bool
	FailLongBackup  bool
	Timers          Timers
	Mail            MailConfig
}

// RunState is the mutable, per-invocation state threaded through a stage
// run. No other mutable state survives between stage calls: the external
// driver may run each stage keyword in a fresh process.
type RunState struct {
	Tag      string
	BackupID string
}

// WorkflowRecord describes one workflow instance as reported by
// GET /wfs/rest/progresssummaries.
type WorkflowRecord struct {
	InstanceID     string
	DefinitionName string
	StartTime      time.Time
	EndTime        time.Time
	Active         bool
	Aborted        bool
	IncidentActive bool
	EndNodeID      string
}

const (
	// BackupSuccessfulSuffix is the end_node_id suffix marking a backup
	// workflow that reached its terminal-good state.
	BackupSuccessfulSuffix = "__prg__p100"
	// ValidateBackupsEnd is the end_node_id marking a terminal-good
	// validation workflow.
	ValidateBackupsEnd = "ValidateBackupsEnd"
	// BackupValidationFailed is the end_node_id marking a terminal-bad
	// validation workflow.
	BackupValidationFailed = "BackupValidationFailed"
)

// TerminalGood reports whether the record reached its intended terminal
// state for either a backup or a validation workflow.
func (w WorkflowRecord) TerminalGood() bool {
	return hasSuffix(w.EndNodeID, BackupSuccessfulSuffix) || w.EndNodeID == ValidateBackupsEnd
}

// TerminalBad reports whether the record reached a terminal failure state,
// or was aborted, or has an active incident against it.
func (w WorkflowRecord) TerminalBad() bool {
	return w.EndNodeID == BackupValidationFailed || w.IncidentActive || w.Aborted
}

// InFlight reports whether the record is neither terminal-good nor
// terminal-bad; active=true is the only positive indicator of progress.
func (w WorkflowRecord) InFlight() bool {
	return !w.TerminalGood() && !w.TerminalBad()
}

func hasSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

// WorkflowDefinition describes one entry from GET /wfs/rest/definitions.
// DefinitionID is a dotted triple "<ns>.--.<version>.--.<name>".
type WorkflowDefinition struct {
	DefinitionID string
	Name         string
	Version      string
}

// Storage workflow type names, used by the blocking-rules evaluator and the
// workflow classifier's active_storage_wfs().
const (
	DefinitionBackupDeployment   = "Backup Deployment"
	DefinitionENMInitialInstall  = "ENM Initial Install"
	DefinitionRestoreDeployment  = "Restore Deployment"
	DefinitionRollbackDeployment = "Rollback Deployment"
)

// WorkflowType is a blocking-rule category: backup, install, restore,
// rollback, or upgrade.
type WorkflowType string

const (
	WfBackup   WorkflowType = "backup"
	WfInstall  WorkflowType = "install"
	WfRestore  WorkflowType = "restore"
	WfRollback WorkflowType = "rollback"
	WfUpgrade  WorkflowType = "upgrade"
)

// BlockingRule is a pair (count, types): the snapshot violates the rule when
// the sum of counts of tenancies running any listed type reaches count.
type BlockingRule struct {
	Count int
	Types []WorkflowType
}
