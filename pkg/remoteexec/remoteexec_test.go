package remoteexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunCapturesExitAndOutput(t *testing.T) {
	r := NewRunner()
	res := r.Run(context.Background(), "echo hello; exit 0", nil)
	assert.True(t, res.Ok())
	assert.Contains(t, res.Stdout, "hello")
}

func TestRunNonZeroExit(t *testing.T) {
	r := NewRunner()
	res := r.Run(context.Background(), "exit 3", nil)
	assert.False(t, res.Ok())
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunSpawnFailureNeverRaises(t *testing.T) {
	// An empty PATH means "sh" itself cannot be found, so the command never
	// starts.
	t.Setenv("PATH", t.TempDir())
	r := &Runner{Timeout: time.Second}
	res := r.Run(context.Background(), "", nil)
	assert.NotEmpty(t, res) // always a populated Result, never an error
}

func TestSSHExecWithoutLiveHostReturnsFailedResult(t *testing.T) {
	r := NewRunner()
	res := r.SSHExec(context.Background(), "/tmp/key", "cloud-user", "127.0.0.1", "hostname")
	// Without a live host this always fails, but it must still be a clean
	// Result rather than a panic or spawn error.
	assert.False(t, res.Ok())
}
