package main

import (
	"context"
	"fmt"
	"os"

	"github.com/consultant-1379/backup-scheduler/internal/config"
	"github.com/consultant-1379/backup-scheduler/pkg/credential"
	"github.com/consultant-1379/backup-scheduler/pkg/dispatch"
	"github.com/consultant-1379/backup-scheduler/pkg/log"
	"github.com/consultant-1379/backup-scheduler/pkg/notify"
	"github.com/consultant-1379/backup-scheduler/pkg/remoteexec"
	"github.com/consultant-1379/backup-scheduler/pkg/sequencer"
	"github.com/consultant-1379/backup-scheduler/pkg/stage"
	"github.com/consultant-1379/backup-scheduler/pkg/types"
	"github.com/consultant-1379/backup-scheduler/pkg/workflow"
	"github.com/spf13/cobra"
)

var (
	flagCustomer        string
	flagStage           string
	flagTag             string
	flagID              string
	flagCfg             string
	flagNoMail          bool
	flagStdout          bool
	flagMetricsTextfile string
	flagHealthcheck     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "backup-stages",
	Short: "Invoke one backup stage, or the full ALL sequence, for a customer",
	Long: `backup-stages drives a telecom deployment's backup lifecycle one stage
at a time: ensuring an SSH credential, waiting out blocking workflows,
triggering and polling a backup and its validation, and leaving a success
marker on NFS.

Each stage is independently re-runnable; ALL chains all of them with the
sequencer's timed waiters.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDispatch,
}

func init() {
	rootCmd.Flags().StringVar(&flagCustomer, "customer", "", "customer (tenancy) name (required)")
	rootCmd.Flags().StringVar(&flagStage, "stage", "", "stage keyword: KEY STORAGE_WF ALL_WF RETENTION BACKUP RUNNING CHECK VALIDATE METADATA FLAG ALL WFS WAIT (required)")
	rootCmd.Flags().StringVar(&flagTag, "tag", "", "backup tag (required except for KEY/WFS/STORAGE_WF/ALL_WF/RETENTION/ALL/BACKUP)")
	rootCmd.Flags().StringVar(&flagID, "id", "", "backup workflow instance id (required for RUNNING/CHECK/WAIT)")
	rootCmd.Flags().StringVar(&flagCfg, "cfg", "/etc/backup-stages/backup.ini", "path to the INI configuration file")
	rootCmd.Flags().BoolVar(&flagNoMail, "nomail", false, "disable outbound notification mail regardless of [mail] config")
	rootCmd.Flags().BoolVar(&flagStdout, "stdout", false, "log to stdout (stdout is also the destination without this flag; [logging] log_file is not read)")
	rootCmd.Flags().StringVar(&flagMetricsTextfile, "metrics-textfile", "", "write a node_exporter textfile-collector metrics file here after dispatch")
	rootCmd.Flags().BoolVar(&flagHealthcheck, "healthcheck", false, "probe the workflow service over HTTP before dispatching and log the result")

	_ = rootCmd.MarkFlagRequired("customer")
	_ = rootCmd.MarkFlagRequired("stage")
}

// tagNotRequiredFor is the set of stage keywords that do not require --tag,
// per the external interfaces section.
var tagNotRequiredFor = map[string]bool{
	dispatch.KeyStage:       true,
	dispatch.WfsStage:       true,
	dispatch.StorageWfStage: true,
	dispatch.AllWfStage:     true,
	dispatch.RetentionStage: true,
	dispatch.AllStage:       true,
	dispatch.BackupStage:    true,
}

// idRequiredFor is the set of stage keywords that require --id.
var idRequiredFor = map[string]bool{
	dispatch.RunningStage: true,
	dispatch.CheckStage:   true,
	dispatch.WaitStage:    true,
}

func runDispatch(cmd *cobra.Command, args []string) error {
	if !tagNotRequiredFor[flagStage] && flagTag == "" {
		return fmt.Errorf("--tag is required for stage %s", flagStage)
	}
	if idRequiredFor[flagStage] && flagID == "" {
		return fmt.Errorf("--id is required for stage %s", flagStage)
	}

	cfg, err := config.Load(flagCfg)
	if err != nil {
		return err
	}

	tenancy, ok := cfg.Tenancies[flagCustomer]
	if !ok {
		return fmt.Errorf("unknown customer %q", flagCustomer)
	}

	logCfg := cfg.Logging
	if flagStdout {
		logCfg.Output = os.Stdout
	}
	log.Init(logCfg)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if !flagNoMail && cfg.Global.Mail.Enabled {
		notifier = notify.NewMailNotifier(cfg.Global.Mail.URL, config.MailSenderFor(flagCustomer), cfg.Global.Mail.Recipient)
	}

	rules, err := dispatch.ParseBlockingRules(cfg.Global.BlockingWfRules)
	if err != nil {
		return fmt.Errorf("parsing blocking_wfs: %w", err)
	}

	if flagHealthcheck {
		result := workflow.NewClient(tenancy.LCMHost).Healthcheck(cmd.Context())
		logger := log.WithCustomer(flagCustomer)
		if result.Healthy {
			logger.Info().Str("message", result.Message).Dur("duration", result.Duration).Msg("workflow service healthcheck passed")
		} else {
			logger.Warn().Str("message", result.Message).Dur("duration", result.Duration).Msg("workflow service healthcheck failed")
		}
	}

	runner := remoteexec.NewRunner()
	cred := credential.NewResolver(runner, notifier)
	state := &types.RunState{Tag: flagTag, BackupID: flagID}

	engine := stage.NewEngine(cfg.Global, tenancy, cfg.Tenancies, runner, cred, notifier, state)
	seq := sequencer.New(engine, notifier)

	d := dispatch.New(engine, seq, notifier, func() notify.Info {
		return notify.Info{
			Customer: tenancy.Name,
			Tag:      state.Tag,
			ID:       state.BackupID,
			LCMHost:  tenancy.LCMHost,
		}
	})
	d.Customer = tenancy.Name
	d.MetricsTextfile = flagMetricsTextfile

	code := d.Run(context.Background(), dispatch.Invocation{Stage: flagStage, Rules: rules})
	os.Exit(code)
	return nil
}
