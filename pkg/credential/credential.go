// Package credential is the C2 credential resolver: it ensures a usable SSH
// private key exists for a tenancy's LCM host, falling back to the
// OpenStack stack outputs when the configured key no longer works.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/consultant-1379/backup-scheduler/pkg/log"
	"github.com/consultant-1379/backup-scheduler/pkg/notify"
	"github.com/consultant-1379/backup-scheduler/pkg/outcome"
	"github.com/consultant-1379/backup-scheduler/pkg/remoteexec"
)

const sshUser = "cloud-user"

// Resolver implements ensure_key.
type Resolver struct {
	Runner   *remoteexec.Runner
	Notifier notify.Notifier
}

// NewResolver returns a Resolver backed by runner, notifying through n.
func NewResolver(runner *remoteexec.Runner, n notify.Notifier) *Resolver {
	return &Resolver{Runner: runner, Notifier: n}
}

// EnsureKey produces a working private key at keyPath for lcmHost,
// consulting the OpenStack API via keystoneRC when the existing key no
// longer authenticates. Idempotent: when the existing key already works,
// EnsureKey makes no mail call and no file write.
func (r *Resolver) EnsureKey(ctx context.Context, info notify.Info, lcmHost, keyPath, keystoneRC string) outcome.Outcome {
	logger := log.WithComponent("credential")

	if !remoteexec.Ping(ctx, lcmHost, 3, 5*time.Second) {
		logger.Error().Str("lcm", lcmHost).Msg("LCM host unreachable")
		r.Notifier.Notify("ensure_key", fmt.Sprintf("LCM host %s is unreachable", lcmHost), false, true, info)
		return outcome.Fail
	}

	quiet := &remoteexec.Runner{Timeout: r.Runner.Timeout, Quiet: true}
	probe := quiet.SSHExec(ctx, keyPath, sshUser, lcmHost, "hostname")
	if probe.Ok() {
		logger.Info().Str("lcm", lcmHost).Msg("existing key still works")
		return outcome.Ok
	}
	logger.Warn().Str("lcm", lcmHost).Msg("existing key failed, falling back to OpenStack lookup")

	env, err := loadKeystoneEnv(keystoneRC)
	if err != nil {
		logger.Error().Err(err).Str("path", keystoneRC).Msg("failed to load keystone RC")
		r.Notifier.Notify("ensure_key", "failed to load keystone RC file", false, true, info)
		return outcome.Fail
	}

	candidates := r.listKeyStacks(ctx, env)
	if len(candidates) == 0 {
		logger.Warn().Msg("no candidate cu_key stacks found")
	}

	for _, stackName := range candidates {
		body, err := r.fetchPrivateKey(ctx, env, stackName)
		if err != nil {
			logger.Warn().Err(err).Str("stack", stackName).Msg("candidate stack did not yield a usable key")
			continue
		}

		tmpPath, err := writeTempKey(body)
		if err != nil {
			logger.Warn().Err(err).Str("stack", stackName).Msg("failed to write temp key file")
			continue
		}

		probe := quiet.SSHExec(ctx, tmpPath, sshUser, lcmHost, "hostname")
		if !probe.Ok() {
			os.Remove(tmpPath)
			logger.Warn().Str("stack", stackName).Msg("candidate key failed SSH test")
			continue
		}

		if err := installKey(tmpPath, keyPath); err != nil {
			os.Remove(tmpPath)
			logger.Error().Err(err).Msg("failed to install working key")
			r.Notifier.Notify("ensure_key", "failed to install working key", false, true, info)
			return outcome.Fail
		}
		os.Remove(tmpPath)
		logger.Info().Str("stack", stackName).Msg("installed new key")
		return outcome.Ok
	}

	r.Notifier.Notify("ensure_key", fmt.Sprintf("no working SSH key found for %s", lcmHost), false, true, info)
	return outcome.Fail
}

// loadKeystoneEnv loads a keystone RC file into a dict by stripping
// "export ", dropping comments and non-export lines, splitting on the first
// "=", and trimming quotes/whitespace from the value.
func loadKeystoneEnv(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keystone rc: %w", err)
	}

	env := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "export ") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		env[key] = value
	}
	return env, nil
}

// listKeyStacks runs `openstack stack list` under env and filters to stack
// names containing "cu_key". An empty openstack response yields an empty
// slice, not an error: the caller logs and falls through to Fail.
func (r *Resolver) listKeyStacks(ctx context.Context, env map[string]string) []string {
	res := r.Runner.Run(ctx, "openstack --insecure stack list -c 'Stack Name' -f value", env)
	if !res.Ok() {
		return nil
	}
	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.Contains(line, "cu_key") {
			names = append(names, line)
		}
	}
	return names
}

type stackShowOutput struct {
	Outputs []struct {
		OutputKey   string `json:"output_key"`
		OutputValue string `json:"output_value"`
	} `json:"outputs"`
}

// fetchPrivateKey runs `openstack stack show <name> -f json` and extracts
// the cloud_user_private_key output value.
func (r *Resolver) fetchPrivateKey(ctx context.Context, env map[string]string, stackName string) (string, error) {
	res := r.Runner.Run(ctx, fmt.Sprintf("openstack --insecure stack show %s -f json", stackName), env)
	if !res.Ok() {
		return "", fmt.Errorf("stack show failed: exit %d", res.ExitCode)
	}

	var parsed stackShowOutput
	if err := json.Unmarshal([]byte(res.Stdout), &parsed); err != nil {
		return "", fmt.Errorf("parsing stack show JSON: %w", err)
	}
	for _, o := range parsed.Outputs {
		if o.OutputKey == "cloud_user_private_key" {
			return o.OutputValue, nil
		}
	}
	return "", fmt.Errorf("stack %s has no cloud_user_private_key output", stackName)
}

// writeTempKey writes body to a private temp file with mode 0600, flushed
// before use.
func writeTempKey(body string) (string, error) {
	f, err := os.CreateTemp("", "backup-stages-key-*")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := f.Chmod(0o600); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if _, err := f.WriteString(body); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Sync(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// installKey copies tmpPath over keyPath, preserving keyPath's name and
// mode 0600: it reads tmpPath, writes its bytes to keyPath, and re-applies
// 0600. The write is not atomic, and tmpPath is left for the caller to remove.
func installKey(tmpPath, keyPath string) error {
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, data, 0o600); err != nil {
		return err
	}
	return os.Chmod(keyPath, 0o600)
}
