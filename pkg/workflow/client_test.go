package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/consultant-1379/backup-scheduler/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverAddr(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestSnapshotDecodesProgressSummaries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wfs/rest/progresssummaries", r.URL.Path)
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`[{"instanceId":"1","definitionName":"Backup Deployment","active":true,"endNodeId":"foo__prg__p100"}]`))
	}))
	defer ts.Close()

	c := NewClient(serverAddr(ts))
	records, ok := c.Snapshot(context.Background())
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].InstanceID)
	assert.True(t, records[0].Active)
}

func TestSnapshotReturnsFalseOnNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(serverAddr(ts))
	_, ok := c.Snapshot(context.Background())
	assert.False(t, ok)
}

func TestSnapshotReturnsFalseOnMalformedJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer ts.Close()

	c := NewClient(serverAddr(ts))
	_, ok := c.Snapshot(context.Background())
	assert.False(t, ok)
}

func TestDefinitionsSplitsDottedTriple(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wfs/rest/definitions", r.URL.Path)
		w.Write([]byte(`[{"definitionId":"ns.--.1.2.3.--.BackupValidation__top"}]`))
	}))
	defer ts.Close()

	c := NewClient(serverAddr(ts))
	defs := c.Definitions(context.Background())
	require.Len(t, defs, 1)
	assert.Equal(t, "1.2.3", defs[0].Version)
	assert.Equal(t, "BackupValidation__top", defs[0].Name)
}

func TestStartInstancePostsExpectedBodyAndReturnsID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "def-1", body["definitionId"])
		assert.Equal(t, "key-1", body["businessKey"])
		w.Write([]byte(`{"instanceId":"new-id"}`))
	}))
	defer ts.Close()

	c := NewClient(serverAddr(ts))
	id, ok := c.StartInstance(context.Background(), "def-1", "key-1", "tag-1")
	require.True(t, ok)
	assert.Equal(t, "new-id", id)
}

func TestStartInstanceFailsWithoutInstanceID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := NewClient(serverAddr(ts))
	_, ok := c.StartInstance(context.Background(), "def-1", "key-1", "tag-1")
	assert.False(t, ok)
}

func TestStartValidationPicksLatestDefinitionAndStartsIt(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ns.--.2.0.--.BackupValidation__top", body["definitionId"])
		assert.True(t, strings.HasPrefix(body["businessKey"].(string), "Backup Validation_"))
		w.Write([]byte(`{"instanceId":"val-id"}`))
	}))
	defer ts.Close()

	c := NewClient(serverAddr(ts))
	defs := []types.WorkflowDefinition{
		{DefinitionID: "ns.--.1.0.--.BackupValidation__top", Version: "1.0", Name: "BackupValidation__top"},
		{DefinitionID: "ns.--.2.0.--.BackupValidation__top", Version: "2.0", Name: "BackupValidation__top"},
		{DefinitionID: "ns.--.9.0.--.SomeOtherDefinition", Version: "9.0", Name: "SomeOtherDefinition"},
	}

	id, ok := c.StartValidation(context.Background(), defs, "tag-1")
	require.True(t, ok)
	assert.Equal(t, "val-id", id)
}

func TestHealthcheckReportsHealthyOn2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wfs/rest/definitions", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := NewClient(serverAddr(ts))
	result := c.Healthcheck(context.Background())
	assert.True(t, result.Healthy)
}

func TestHealthcheckReportsUnhealthyOnConnectionFailure(t *testing.T) {
	c := NewClient("127.0.0.1:1")
	result := c.Healthcheck(context.Background())
	assert.False(t, result.Healthy)
}
