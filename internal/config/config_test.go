package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleINI = `
[general]
customers = dummy
backup_script = /opt/backup/run_backup.sh
metadata_script = /opt/backup/export_metadata.sh
skip_check_all = false
fail_long_backup = true
retention = 5
blocking_wfs = 1:backup|restore,2:install

[timers]
max_start_delay = 2h
max_duration = 6h
max_validation_time = 30m

[nfs]
ip = nfs.example.com
user = nfsuser
key = /etc/backup/nfs_key
path = /export/backups

[mail]
url = https://mail.example.com/send
dest = oncall@example.com

[logging]
format = %(asctime)s %(message)s
datefmt = 2006-01-02T15:04:05
log_file = /var/log/backup.log
level = DEBUG

[dummy]
lcm = dummy_lcm
enm_key = /etc/backup/dummy_enm_key
keystone_rc = /etc/backup/dummy_keystonerc
deployment_id = dummy
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.ini")
	require.NoError(t, os.WriteFile(path, []byte(sampleINI), 0o600))
	return path
}

func TestLoadParsesGlobalAndTenancySections(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	assert.Equal(t, "/opt/backup/run_backup.sh", cfg.Global.BackupCmd)
	assert.Equal(t, 5, cfg.Global.RetentionValue)
	assert.True(t, cfg.Global.FailLongBackup)
	assert.False(t, cfg.Global.SkipAllCheck)
	assert.Equal(t, "1:backup|restore,2:install", cfg.Global.BlockingWfRules)

	assert.Equal(t, 2*time.Hour, cfg.Global.Timers.MaxStartDelay)
	assert.Equal(t, 6*time.Hour, cfg.Global.Timers.MaxDuration)
	assert.Equal(t, 30*time.Minute, cfg.Global.Timers.MaxValidationTime)

	assert.Equal(t, "nfs.example.com", cfg.Global.NFS.Host)
	assert.True(t, cfg.Global.Mail.Enabled)
	assert.Equal(t, "oncall@example.com", cfg.Global.Mail.Recipient)

	require.Contains(t, cfg.Tenancies, "dummy")
	tenancy := cfg.Tenancies["dummy"]
	assert.Equal(t, "dummy_lcm", tenancy.LCMHost)
	assert.Equal(t, "dummy", tenancy.DeploymentID)
}

func TestLoadMissingCustomerSectionErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.ini")
	require.NoError(t, os.WriteFile(path, []byte(`
[general]
customers = dummy, missing
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseDurationUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"":    0,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseDuration("5x")
	assert.Error(t, err)
}

func TestMailSenderForDerivesAddress(t *testing.T) {
	assert.Equal(t, "dummy@no-reply.ericsson.net", MailSenderFor("dummy"))
}
