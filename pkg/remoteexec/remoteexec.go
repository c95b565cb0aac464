// Package remoteexec is the C1 remote-exec adapter: it runs shell commands
// locally or over SSH/SCP and never raises — failures are folded into a
// non-zero exit code and captured stderr, following the same
// exec.CommandContext-and-buffer pattern the rest of this codebase's
// ecosystem uses for subprocess health checks.
package remoteexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/consultant-1379/backup-scheduler/pkg/log"
)

// DefaultTimeout bounds any single command invocation so a hung remote host
// cannot wedge the whole sequence; see the concurrency model's guidance on a
// ~30s request timeout.
const DefaultTimeout = 30 * time.Second

// Result is the outcome of running a command: it is always populated, even
// on spawn failure, so callers never need a separate error branch.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Runner executes shell-interpreted commands, optionally over SSH/SCP.
// The zero value is ready to use.
type Runner struct {
	// Timeout bounds every invocation; defaults to DefaultTimeout.
	Timeout time.Duration
	// Quiet, when set, suppresses stdout/stderr logging (used by Ping and
	// credential probing, which are quiet by design). The command line
	// itself is always logged.
	Quiet bool
}

// NewRunner returns a Runner configured with DefaultTimeout.
func NewRunner() *Runner {
	return &Runner{Timeout: DefaultTimeout}
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// Run executes a shell-interpreted command line, optionally with additional
// environment variables, and returns (exit, stdout, stderr). On spawn
// failure it returns a synthetic exit=1 with the spawn error in stderr; it
// never returns a Go error.
func (r *Runner) Run(ctx context.Context, cmdline string, env map[string]string) Result {
	logger := log.WithComponent("remoteexec")
	logger.Info().Str("cmd", cmdline).Msg("running command")

	cctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", cmdline)
	if len(env) > 0 {
		cmd.Env = cmd.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		ExitCode: exitCode(err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if err != nil && res.ExitCode == 1 && cmd.ProcessState == nil {
		// Spawn failure (command never started): fold the error into stderr
		// so it is never silently dropped.
		res.Stderr = err.Error()
	}

	if !r.Quiet {
		logger.Debug().
			Int("exit", res.ExitCode).
			Str("stdout", res.Stdout).
			Str("stderr", res.Stderr).
			Msg("command finished")
	}
	return res
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if asExitError(err, &exitErr) {
		return exitErr.ExitCode()
	}
	// Spawn failure (binary missing, context deadline, etc): synthetic 1.
	return 1
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// Ping runs the OS ping binary against host, retrying up to retries times
// with a fixed wait between attempts. Quiet by design: only the final
// outcome is logged, not every attempt's stdout/stderr.
func Ping(ctx context.Context, host string, retries int, wait time.Duration) bool {
	r := &Runner{Timeout: 10 * time.Second, Quiet: true}
	logger := log.WithComponent("remoteexec")

	for attempt := 0; attempt <= retries; attempt++ {
		res := r.Run(ctx, fmt.Sprintf("ping -c 1 %s", host), nil)
		if res.Ok() {
			return true
		}
		if attempt < retries {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(wait):
			}
		}
	}
	logger.Warn().Str("host", host).Int("retries", retries).Msg("host did not respond to ping")
	return false
}

// sshOptions are applied to every SSH/SCP invocation. Host key checking is
// deliberately disabled: these hosts are short-lived cloud tenancies with no
// stable known_hosts entry to validate against.
const sshOptions = "-o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null"

// SSHExec runs remoteCmd on host as user, authenticating with key.
func (r *Runner) SSHExec(ctx context.Context, key, user, host, remoteCmd string) Result {
	cmdline := fmt.Sprintf("ssh %s -i %s %s@%s %s", sshOptions, shellQuote(key), user, host, shellQuote(remoteCmd))
	return r.Run(ctx, cmdline, nil)
}

// SCPPut copies the local file at src to dst on host as user, authenticating
// with key.
func (r *Runner) SCPPut(ctx context.Context, key, user, host, src, dst string) Result {
	cmdline := fmt.Sprintf("scp %s -i %s %s %s@%s:%s", sshOptions, shellQuote(key), shellQuote(src), user, host, shellQuote(dst))
	return r.Run(ctx, cmdline, nil)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
