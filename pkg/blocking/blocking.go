// Package blocking is the C5 blocking-rules evaluator: it applies the
// user-supplied rule set to a per-tenancy workflow-type count vector.
package blocking

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/consultant-1379/backup-scheduler/pkg/types"
)

// typeOrder is the fixed first-match-wins precedence used when counting a
// tenancy's active storage workflows into the vector V. This aggregation
// is a deliberate inheritance from the original behaviour (see the design
// notes): a tenancy running both backup and restore counts as one backup,
// never two.
var typeOrder = []types.WorkflowType{
	types.WfBackup,
	types.WfRestore,
	types.WfInstall,
	types.WfUpgrade,
	types.WfRollback,
}

var definitionToType = map[string]types.WorkflowType{
	types.DefinitionBackupDeployment:   types.WfBackup,
	types.DefinitionRestoreDeployment:  types.WfRestore,
	types.DefinitionENMInitialInstall:  types.WfInstall,
	types.DefinitionRollbackDeployment: types.WfRollback,
	// "upgrade" has no dedicated storage-workflow definition name in the
	// classifier's active_storage_wfs() filter; it is reachable only when
	// a future definition is added to that filter and this map.
}

// CountVector builds V: for each tenancy with a non-empty set of active
// storage workflows, increments exactly one counter using the first
// matching type in typeOrder.
func CountVector(activeStorageByTenancy map[string][]types.WorkflowRecord) map[types.WorkflowType]int {
	v := make(map[types.WorkflowType]int)
	for _, records := range activeStorageByTenancy {
		present := make(map[types.WorkflowType]bool)
		for _, r := range records {
			if t, ok := definitionToType[r.DefinitionName]; ok {
				present[t] = true
			}
		}
		for _, t := range typeOrder {
			if present[t] {
				v[t]++
				break
			}
		}
	}
	return v
}

// Rule is a pair (count, types): the snapshot violates the rule when the
// sum of V[t] for t in types reaches count.
type Rule = types.BlockingRule

// ParseRules parses the "N:t1|t2|...,M:t3,..." rule-list syntax from the
// [general] blocking_wfs config value.
func ParseRules(spec string) ([]Rule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var rules []Rule
	for _, clause := range strings.Split(spec, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		parts := strings.SplitN(clause, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed blocking rule clause %q", clause)
		}
		count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed rule count in %q: %w", clause, err)
		}

		var types_ []types.WorkflowType
		for _, t := range strings.Split(parts[1], "|") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			types_ = append(types_, types.WorkflowType(t))
		}
		if len(types_) == 0 {
			return nil, fmt.Errorf("rule %q names no workflow types", clause)
		}
		rules = append(rules, Rule{Count: count, Types: types_})
	}
	return rules, nil
}

// Evaluate returns true iff, for every rule (N, types), the sum of V[t] for
// t in types is strictly less than N. If the vector is empty (no tenancy
// has any active storage workflow at all), it returns true early without
// evaluating any rule.
func Evaluate(rules []Rule, v map[types.WorkflowType]int) bool {
	if len(v) == 0 {
		return true
	}
	for _, rule := range rules {
		sum := 0
		for _, t := range rule.Types {
			sum += v[t]
		}
		if sum >= rule.Count {
			return false
		}
	}
	return true
}
