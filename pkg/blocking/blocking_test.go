package blocking

import (
	"testing"

	"github.com/consultant-1379/backup-scheduler/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestCountVectorFirstMatchWins(t *testing.T) {
	// A tenancy running both backup and restore counts as one backup, not
	// one of each, per the deliberate first-match-wins aggregation.
	byTenancy := map[string][]types.WorkflowRecord{
		"dummy": {
			{DefinitionName: types.DefinitionBackupDeployment},
			{DefinitionName: types.DefinitionRestoreDeployment},
		},
	}
	v := CountVector(byTenancy)
	assert.Equal(t, 1, v[types.WfBackup])
	assert.Equal(t, 0, v[types.WfRestore])
}

func TestEvaluateEmptyVectorAlwaysTrue(t *testing.T) {
	rules, err := ParseRules("1:backup")
	assert.NoError(t, err)
	assert.True(t, Evaluate(rules, map[types.WorkflowType]int{}))
}

func TestEvaluateScenario6(t *testing.T) {
	// rules=1:backup; one tenancy active-backup, one idle => false.
	rules, err := ParseRules("1:backup")
	assert.NoError(t, err)
	v := CountVector(map[string][]types.WorkflowRecord{
		"a": {{DefinitionName: types.DefinitionBackupDeployment}},
		"b": nil,
	})
	assert.False(t, Evaluate(rules, v))

	// Same setup with rules=2:backup|restore => true.
	rules2, err := ParseRules("2:backup|restore")
	assert.NoError(t, err)
	assert.True(t, Evaluate(rules2, v))
}

func TestEvaluateMonotone(t *testing.T) {
	rules, err := ParseRules("1:backup|restore")
	assert.NoError(t, err)

	low := map[types.WorkflowType]int{types.WfBackup: 1}
	high := map[types.WorkflowType]int{types.WfBackup: 1, types.WfRestore: 2}

	lowOk := Evaluate(rules, low)
	highOk := Evaluate(rules, high)

	// Increasing any component of V cannot turn a false into a true.
	if !lowOk {
		assert.False(t, highOk)
	}
}

func TestParseRulesMultipleClauses(t *testing.T) {
	rules, err := ParseRules("1:backup|install,2:restore")
	assert.NoError(t, err)
	assert.Len(t, rules, 2)
	assert.Equal(t, 1, rules[0].Count)
	assert.ElementsMatch(t, []types.WorkflowType{types.WfBackup, types.WfInstall}, rules[0].Types)
}

func TestParseRulesMalformed(t *testing.T) {
	_, err := ParseRules("not-a-rule")
	assert.Error(t, err)
}
