// Package workflow is the C3 workflow client and C4 workflow classifier: it
// talks to the remote LCM's workflow REST service and filters/queries the
// resulting snapshot by type, activity, and terminal state.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/consultant-1379/backup-scheduler/pkg/health"
	"github.com/consultant-1379/backup-scheduler/pkg/log"
	"github.com/consultant-1379/backup-scheduler/pkg/types"
)

// Client talks to http://{lcm}/wfs/rest/*. No TLS is expected.
type Client struct {
	LCMHost    string
	HTTPClient *http.Client
}

// NewClient returns a Client bound to lcmHost with a bounded request
// timeout, matching the concurrency model's ~30s guidance.
func NewClient(lcmHost string) *Client {
	return &Client{
		LCMHost:    lcmHost,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("http://%s/wfs/rest", c.LCMHost)
}

// Healthcheck probes the workflow service's /definitions endpoint over
// HTTP. This is distinct from the ICMP ping EnsureKey performs: a host can
// answer ping while the workflow service itself has not finished starting,
// and the CLI uses this (behind --healthcheck) to log a clearer diagnostic before a stage
// that depends on the workflow service runs.
func (c *Client) Healthcheck(ctx context.Context) health.Result {
	checker := health.NewHTTPChecker(c.baseURL() + "/definitions").WithTimeout(c.HTTPClient.Timeout)
	return checker.Check(ctx)
}

type progressSummary struct {
	InstanceID     string `json:"instanceId"`
	DefinitionName string `json:"definitionName"`
	StartTime      int64  `json:"startTime"`
	EndTime        int64  `json:"endTime"`
	Active         bool   `json:"active"`
	Aborted        bool   `json:"aborted"`
	IncidentActive bool   `json:"incidentActive"`
	EndNodeID      string `json:"endNodeId"`
}

// Snapshot fetches the current workflow snapshot. On non-2xx or malformed
// JSON it logs the error and returns (nil, false) rather than an error:
// callers (the stage engine) treat a failed fetch as a per-tenancy skip or
// an Indeterminate outcome, distinct from a fetch that legitimately
// succeeded with zero records.
func (c *Client) Snapshot(ctx context.Context) ([]types.WorkflowRecord, bool) {
	logger := log.WithComponent("workflow-client")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/progresssummaries", nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build progresssummaries request")
		return nil, false
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		logger.Error().Err(err).Str("lcm", c.LCMHost).Msg("progresssummaries request failed")
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error().Int("status", resp.StatusCode).Msg("progresssummaries returned non-2xx")
		return nil, false
	}

	var raw []progressSummary
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		logger.Error().Err(err).Msg("failed to decode progresssummaries JSON")
		return nil, false
	}

	records := make([]types.WorkflowRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, types.WorkflowRecord{
			InstanceID:     r.InstanceID,
			DefinitionName: r.DefinitionName,
			StartTime:      time.UnixMilli(r.StartTime),
			EndTime:        time.UnixMilli(r.EndTime),
			Active:         r.Active,
			Aborted:        r.Aborted,
			IncidentActive: r.IncidentActive,
			EndNodeID:      r.EndNodeID,
		})
	}
	return records, true
}

type definitionEntry struct {
	DefinitionID string `json:"definitionId"`
}

// Definitions fetches the workflow definitions list. Each definitionId is a
// dotted triple "<ns>.--.<version>.--.<name>".
func (c *Client) Definitions(ctx context.Context) []types.WorkflowDefinition {
	logger := log.WithComponent("workflow-client")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/definitions", nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build definitions request")
		return nil
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("definitions request failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error().Int("status", resp.StatusCode).Msg("definitions returned non-2xx")
		return nil
	}

	var raw []definitionEntry
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		logger.Error().Err(err).Msg("failed to decode definitions JSON")
		return nil
	}

	defs := make([]types.WorkflowDefinition, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r.DefinitionID, ".--.")
		def := types.WorkflowDefinition{DefinitionID: r.DefinitionID}
		if len(parts) == 3 {
			def.Version = parts[1]
			def.Name = parts[2]
		}
		defs = append(defs, def)
	}
	return defs
}

// LatestValidationDefinition finds the BackupValidation__top definition
// with the highest loose-version order, equivalent to Python's
// sorted(..., key=LooseVersion)[-1].
func LatestValidationDefinition(defs []types.WorkflowDefinition) (types.WorkflowDefinition, bool) {
	var best types.WorkflowDefinition
	found := false
	for _, d := range defs {
		if d.Name != "BackupValidation__top" {
			continue
		}
		if !found || looseVersionLess(best.Version, d.Version) {
			best = d
			found = true
		}
	}
	return best, found
}

type startInstanceRequest struct {
	DefinitionID string                    `json:"definitionId"`
	BusinessKey  string                    `json:"businessKey"`
	Variables    map[string]startVariable `json:"variables"`
}

type startVariable struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type startInstanceResponse struct {
	InstanceID string `json:"instanceId"`
}

// StartInstance POSTs a new instance of definitionID with the given
// business key and tag variable, returning the new instance id.
func (c *Client) StartInstance(ctx context.Context, definitionID, businessKey, tag string) (string, bool) {
	logger := log.WithComponent("workflow-client")

	body := startInstanceRequest{
		DefinitionID: definitionID,
		BusinessKey:  businessKey,
		Variables: map[string]startVariable{
			"tag": {Type: "String", Value: tag},
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode start-instance request")
		return "", false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/instances", bytes.NewReader(encoded))
	if err != nil {
		logger.Error().Err(err).Msg("failed to build start-instance request")
		return "", false
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("start-instance request failed")
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error().Int("status", resp.StatusCode).Msg("start-instance returned non-2xx")
		return "", false
	}

	var parsed startInstanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		logger.Error().Err(err).Msg("failed to decode start-instance JSON")
		return "", false
	}
	if parsed.InstanceID == "" {
		return "", false
	}
	return parsed.InstanceID, true
}

// StartValidation starts the latest BackupValidation__top definition for
// tag, composing businessKey "Backup Validation_YYYYMMDD_HHMMSS" from
// wall-clock local time.
func (c *Client) StartValidation(ctx context.Context, defs []types.WorkflowDefinition, tag string) (string, bool) {
	def, ok := LatestValidationDefinition(defs)
	if !ok {
		log.WithComponent("workflow-client").Error().Msg("no BackupValidation__top definition found")
		return "", false
	}
	businessKey := "Backup Validation_" + time.Now().Format("20060102_150405")
	return c.StartInstance(ctx, def.DefinitionID, businessKey, tag)
}
