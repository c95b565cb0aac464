package sequencer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/consultant-1379/backup-scheduler/pkg/credential"
	"github.com/consultant-1379/backup-scheduler/pkg/notify"
	"github.com/consultant-1379/backup-scheduler/pkg/outcome"
	"github.com/consultant-1379/backup-scheduler/pkg/remoteexec"
	"github.com/consultant-1379/backup-scheduler/pkg/stage"
	"github.com/consultant-1379/backup-scheduler/pkg/types"
	"github.com/consultant-1379/backup-scheduler/pkg/workflow"
	"github.com/stretchr/testify/assert"
)

func newTestSequencer(t *testing.T, global types.GlobalConfig, lcmHost string) *Sequencer {
	t.Helper()
	runner := remoteexec.NewRunner()
	cred := credential.NewResolver(runner, notify.NoopNotifier{})
	engine := stage.NewEngine(global, types.TenancyConfig{Name: "dummy", LCMHost: lcmHost}, nil, runner, cred, notify.NoopNotifier{}, &types.RunState{})
	seq := New(engine, notify.NoopNotifier{})
	seq.sleep = func(time.Duration) {}
	return seq
}

// serverAddr strips the scheme from an httptest server URL, matching the
// bare "host:port" form the engine expects as lcm_host.
func serverAddr(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestCheckForWfsDeadlineExhaustionOnUnreachableLCM(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	global := types.GlobalConfig{
		SkipAllCheck: true,
		Timers:       types.Timers{MaxStartDelay: 0},
	}
	seq := newTestSequencer(t, global, serverAddr(ts))
	seq.Engine.NewClient = workflow.NewClient

	ok := seq.CheckForWfs(context.Background(), nil)
	assert.False(t, ok)
}

func TestCheckForWfsReturnsTrueWhenFleetIsQuiet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.Write([]byte("[]"))
	}))
	defer ts.Close()

	global := types.GlobalConfig{
		SkipAllCheck: true,
		Timers:       types.Timers{MaxStartDelay: time.Hour},
	}
	seq := newTestSequencer(t, global, serverAddr(ts))
	seq.Engine.NewClient = workflow.NewClient

	ok := seq.CheckForWfs(context.Background(), nil)
	assert.True(t, ok)
}

func TestWaitForBackupThreeConsecutiveIndeterminateReturnsIndeterminate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	global := types.GlobalConfig{
		Timers: types.Timers{MaxDuration: time.Hour},
	}
	seq := newTestSequencer(t, global, serverAddr(ts))
	seq.Engine.NewClient = workflow.NewClient
	seq.Engine.State.BackupID = "some-id"

	o := seq.WaitForBackup(context.Background())
	assert.Equal(t, outcome.Indeterminate, o)
}

func TestWaitForBackupFailLongBackupOnDeadline(t *testing.T) {
	global := types.GlobalConfig{
		Timers:         types.Timers{MaxDuration: 1 * time.Nanosecond},
		FailLongBackup: true,
	}
	seq := newTestSequencer(t, global, "unused")
	seq.Engine.State.BackupID = ""

	o := seq.WaitForBackup(context.Background())
	assert.Equal(t, outcome.Fail, o)
}

func TestWaitForBackupReturnsOkWhenRunningGoesFalse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`[{"instanceId":"some-id","active":false,"endNodeId":"foo__prg__p100"}]`))
	}))
	defer ts.Close()

	global := types.GlobalConfig{
		Timers: types.Timers{MaxDuration: time.Hour},
	}
	seq := newTestSequencer(t, global, serverAddr(ts))
	seq.Engine.NewClient = workflow.NewClient
	seq.Engine.State.BackupID = "some-id"

	o := seq.WaitForBackup(context.Background())
	assert.Equal(t, outcome.Ok, o)
}
