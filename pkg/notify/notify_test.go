package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowURLIsNoneWithoutLCMOrID(t *testing.T) {
	assert.Equal(t, "None", Info{}.workflowURL())
	assert.Equal(t, "None", Info{LCMHost: "lcm1"}.workflowURL())
	assert.Equal(t, "None", Info{ID: "id1"}.workflowURL())
}

func TestWorkflowURLBuildsBackupDeploymentLink(t *testing.T) {
	url := Info{LCMHost: "lcm1", ID: "abc"}.workflowURL()
	assert.Equal(t, "http://lcm1/index.html#workflows/workflow/enmdeploymentworkflows.--.Backup%20Deployment/workflowinstance/abc", url)
}

func TestMailNotifierPostsSubjectPrefixAndBody(t *testing.T) {
	var gotPayload Payload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("content-type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := NewMailNotifier(ts.URL, "sender@example.com", "dest@example.com")
	m.Notify("BACKUP", "something failed", false, true, Info{Customer: "dummy", Tag: "fake_tag", ID: "fake_id", LCMHost: "dummy_lcm"})

	require.Len(t, gotPayload.Personalizations, 1)
	assert.Equal(t, "Backup failure: BACKUP", gotPayload.Personalizations[0].Subject)
	assert.Equal(t, "dest@example.com", gotPayload.Personalizations[0].To[0].Email)
	assert.Equal(t, "sender@example.com", gotPayload.From.Email)
	require.Len(t, gotPayload.Content, 1)
	assert.Contains(t, gotPayload.Content[0].Value, "something failed")
	assert.Contains(t, gotPayload.Content[0].Value, "Customer: dummy")
	assert.Contains(t, gotPayload.Content[0].Value, "Tag: fake_tag")
	assert.Contains(t, gotPayload.Content[0].Value, "ID: fake_id")
	assert.Contains(t, gotPayload.Content[0].Value, "WF URL: http://dummy_lcm")
}

func TestMailNotifierWarningUsesWarningPrefix(t *testing.T) {
	var gotPayload Payload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := NewMailNotifier(ts.URL, "sender@example.com", "dest@example.com")
	m.Notify("CHECK", "retrying", true, false, Info{})

	assert.Equal(t, "Backup warning: CHECK", gotPayload.Personalizations[0].Subject)
	assert.Equal(t, "retrying", gotPayload.Content[0].Value)
}

func TestMailNotifierNoopsWithoutRecipient(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	m := NewMailNotifier(ts.URL, "sender@example.com", "")
	m.Notify("X", "Y", false, false, Info{})
	assert.False(t, called)
}

func TestNoopNotifierDiscardsEverything(t *testing.T) {
	var n Notifier = NoopNotifier{}
	assert.NotPanics(t, func() {
		n.Notify("X", "Y", true, true, Info{Customer: "dummy"})
	})
}
