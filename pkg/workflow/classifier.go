package workflow

import "github.com/consultant-1379/backup-scheduler/pkg/types"

// storageDefinitionNames are the workflow definitions counted as
// "disruptive" for the purposes of the blocking-rules check and
// wait-for-quiet.
var storageDefinitionNames = map[string]bool{
	types.DefinitionBackupDeployment:   true,
	types.DefinitionENMInitialInstall:  true,
	types.DefinitionRestoreDeployment:  true,
	types.DefinitionRollbackDeployment: true,
}

// Active returns the records with active=true.
func Active(snapshot []types.WorkflowRecord) []types.WorkflowRecord {
	var out []types.WorkflowRecord
	for _, r := range snapshot {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// ActiveStorageWfs returns the active records whose definition name is one
// of Backup Deployment, ENM Initial Install, Restore Deployment, or
// Rollback Deployment. Always a subset of Active(snapshot).
func ActiveStorageWfs(snapshot []types.WorkflowRecord) []types.WorkflowRecord {
	var out []types.WorkflowRecord
	for _, r := range Active(snapshot) {
		if storageDefinitionNames[r.DefinitionName] {
			out = append(out, r)
		}
	}
	return out
}

// ByID returns the unique record with the given instance id. Duplicates
// collapse to "not found": this is a defensive measure against a
// malformed snapshot, not a real expected case.
func ByID(snapshot []types.WorkflowRecord, id string) (types.WorkflowRecord, bool) {
	var match types.WorkflowRecord
	count := 0
	for _, r := range snapshot {
		if r.InstanceID == id {
			match = r
			count++
		}
	}
	if count != 1 {
		return types.WorkflowRecord{}, false
	}
	return match, true
}

// ByType filters the snapshot to records whose DefinitionName is in names.
// When activeOnly is true the filter is additionally restricted to
// Active(snapshot).
func ByType(snapshot []types.WorkflowRecord, names []string, activeOnly bool) []types.WorkflowRecord {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}

	pool := snapshot
	if activeOnly {
		pool = Active(snapshot)
	}

	var out []types.WorkflowRecord
	for _, r := range pool {
		if set[r.DefinitionName] {
			out = append(out, r)
		}
	}
	return out
}
