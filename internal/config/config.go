// Package config loads the INI configuration file described in the
// external interfaces section: [general], [timers], [nfs], [mail],
// [logging], and one [<name>] section per configured customer.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/consultant-1379/backup-scheduler/pkg/log"
	"github.com/consultant-1379/backup-scheduler/pkg/types"
	"gopkg.in/ini.v1"
)

// Config is the fully parsed configuration file: the tenant-independent
// GlobalConfig plus a name→TenancyConfig map for every customer listed in
// [general] customers.
type Config struct {
	Global    types.GlobalConfig
	Tenancies map[string]types.TenancyConfig
	Logging   log.Config
}

// Load reads and parses the INI file at path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config file %s: %w", path, err)
	}

	general := f.Section("general")
	customerNames := splitCSV(general.Key("customers").String())
	if len(customerNames) == 0 {
		return nil, fmt.Errorf("config [general] customers must list at least one customer")
	}

	timers, err := parseTimers(f.Section("timers"))
	if err != nil {
		return nil, err
	}

	nfs := f.Section("nfs")
	mail := f.Section("mail")

	global := types.GlobalConfig{
		BackupCmd:       general.Key("backup_script").String(),
		MetadataCmd:     general.Key("metadata_script").String(),
		RetentionValue:  general.Key("retention").MustInt(0),
		BlockingWfRules: general.Key("blocking_wfs").String(),
		SkipAllCheck:    general.Key("skip_check_all").MustBool(false),
		FailLongBackup:  general.Key("fail_long_backup").MustBool(false),
		Timers:          timers,
		NFS: types.NFSConfig{
			Host:     nfs.Key("ip").String(),
			User:     nfs.Key("user").String(),
			Key:      nfs.Key("key").String(),
			RootPath: nfs.Key("path").String(),
		},
		Mail: types.MailConfig{
			Enabled:   mail.Key("url").String() != "" && mail.Key("dest").String() != "",
			URL:       mail.Key("url").String(),
			Recipient: mail.Key("dest").String(),
		},
	}

	tenancies := make(map[string]types.TenancyConfig, len(customerNames))
	for _, name := range customerNames {
		if !f.HasSection(name) {
			return nil, fmt.Errorf("config is missing required [%s] section for customer %q", name, name)
		}
		sec := f.Section(name)
		tenancies[name] = types.TenancyConfig{
			Name:         name,
			DeploymentID: sec.Key("deployment_id").String(),
			LCMHost:      sec.Key("lcm").String(),
			ENMKeyPath:   sec.Key("enm_key").String(),
			KeystoneRC:   sec.Key("keystone_rc").String(),
		}
	}

	logging := f.Section("logging")
	logCfg := log.Config{
		Level:      log.Level(strings.ToLower(logging.Key("level").MustString("info"))),
		Format:     log.FormatConsole,
		TimeFormat: logging.Key("datefmt").String(),
	}

	return &Config{Global: global, Tenancies: tenancies, Logging: logCfg}, nil
}

// MailSenderFor derives the per-customer sender address: <customer>@no-reply.ericsson.net.
func MailSenderFor(customer string) string {
	return fmt.Sprintf("%s@no-reply.ericsson.net", customer)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTimers(sec *ini.Section) (types.Timers, error) {
	maxStartDelay, err := parseDuration(sec.Key("max_start_delay").String())
	if err != nil {
		return types.Timers{}, fmt.Errorf("parsing [timers] max_start_delay: %w", err)
	}
	maxDuration, err := parseDuration(sec.Key("max_duration").String())
	if err != nil {
		return types.Timers{}, fmt.Errorf("parsing [timers] max_duration: %w", err)
	}
	maxValidationTime, err := parseDuration(sec.Key("max_validation_time").String())
	if err != nil {
		return types.Timers{}, fmt.Errorf("parsing [timers] max_validation_time: %w", err)
	}
	return types.Timers{
		MaxStartDelay:     maxStartDelay,
		MaxDuration:       maxDuration,
		MaxValidationTime: maxValidationTime,
	}, nil
}

// parseDuration parses the "<num>{s|m|h}" suffixed duration strings used
// throughout [timers]. An empty string parses as zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	unit := s[len(s)-1:]
	var multiplier time.Duration
	switch unit {
	case "s":
		multiplier = time.Second
	case "m":
		multiplier = time.Minute
	case "h":
		multiplier = time.Hour
	default:
		return 0, fmt.Errorf("duration %q must end in s, m, or h", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("duration %q has a non-numeric value: %w", s, err)
	}
	return time.Duration(n) * multiplier, nil
}
