package cli

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	zerr "github.com/wozorio/regclean/errors"
	"github.com/wozorio/regclean/pkg/config"
	"github.com/wozorio/regclean/pkg/gc"
	"github.com/wozorio/regclean/pkg/log"
	"github.com/wozorio/regclean/pkg/registry"
	"github.com/wozorio/regclean/pkg/retention"
	"github.com/wozorio/regclean/pkg/scheduler"
)

const hoursInDay = 24

func NewRunCommand() *cobra.Command {
	conf := config.New()

	runCmd := &cobra.Command{
		Use:   "run [config-path]",
		Short: "Delete dangling and outdated images from the registry",
		Long: `Delete dangling images and images older than the configured age from
the registry, keeping the currently deployed ones. Options can come from
a config file, from flags, or both; flags win.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				if err := config.Load(conf, args[0]); err != nil {
					return err
				}
			}

			if err := applyFlags(cmd, conf); err != nil {
				return err
			}

			if err := conf.Validate(); err != nil {
				return err
			}

			if err := retention.ValidateReferences(conf.Policy.DeployedImages); err != nil {
				return err
			}

			return runCleanup(cmd, conf)
		},
	}

	flags := runCmd.Flags()
	flags.String(URLFlag, "", "registry URL, scheme included (ex: https://myregistry.azurecr.io)")
	flags.StringP(UserFlag, "u", "", `registry credentials in "username:password" format`)
	flags.String(ResourceGroupFlag, "", "resource group the registry belongs to, recorded in the summary")
	flags.Int(MaxAgeFlag, 0, "delete tagged images older than this many days")
	flags.StringSlice(DeployedFlag, nil, "deployed image references (repo:tag or repo@digest), never deleted")
	flags.StringSlice(ExcludeRepoFlag, nil, "glob patterns of repositories to skip (ex: helm-charts/**)")
	flags.Bool(DeleteUntaggedFlag, true, "delete manifests no tag points at")
	flags.Bool(CleanupAllFlag, false, "delete everything not deployed, regardless of age")
	flags.Bool(DryRunFlag, false, "compute and report the plan without deleting anything")
	flags.Duration(TimeoutFlag, 0, "deadline for the whole run")
	flags.Int(WorkersFlag, 0, "bound on concurrent registry calls")
	flags.Duration(IntervalFlag, 0, "keep running periodically at this interval")
	flags.StringP(OutputFormatFlag, "f", "", "output format [text/json/yaml]")
	flags.Bool(DebugFlag, false, "show debug output")
	flags.Bool(VerifyTLSFlag, true, "verify TLS certificates")
	flags.String(CertDirFlag, "", "directory with client TLS certificates")
	flags.String(AuditLogFlag, "", "append every delete decision to this file")

	return runCmd
}

//nolint:cyclop // one branch per flag
func applyFlags(cmd *cobra.Command, conf *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed(URLFlag) {
		conf.Registry.URL, _ = flags.GetString(URLFlag)
	}

	if flags.Changed(UserFlag) {
		user, _ := flags.GetString(UserFlag)
		conf.Registry.Username, conf.Registry.Password = splitUser(user)
	}

	if flags.Changed(ResourceGroupFlag) {
		conf.Registry.ResourceGroup, _ = flags.GetString(ResourceGroupFlag)
	}

	if flags.Changed(MaxAgeFlag) {
		days, _ := flags.GetInt(MaxAgeFlag)
		conf.Policy.MaxAge = time.Duration(days) * hoursInDay * time.Hour
	}

	if flags.Changed(DeployedFlag) {
		conf.Policy.DeployedImages, _ = flags.GetStringSlice(DeployedFlag)
	}

	if flags.Changed(ExcludeRepoFlag) {
		conf.Policy.ExcludedRepos, _ = flags.GetStringSlice(ExcludeRepoFlag)
	}

	if flags.Changed(DeleteUntaggedFlag) {
		deleteUntagged, _ := flags.GetBool(DeleteUntaggedFlag)
		conf.Policy.DeleteUntagged = &deleteUntagged
	}

	if flags.Changed(CleanupAllFlag) {
		conf.Policy.CleanupAll, _ = flags.GetBool(CleanupAllFlag)
	}

	if flags.Changed(DryRunFlag) {
		conf.Run.DryRun, _ = flags.GetBool(DryRunFlag)
	}

	if flags.Changed(TimeoutFlag) {
		conf.Run.Timeout, _ = flags.GetDuration(TimeoutFlag)
	}

	if flags.Changed(WorkersFlag) {
		conf.Run.Workers, _ = flags.GetInt(WorkersFlag)
	}

	if flags.Changed(IntervalFlag) {
		conf.Run.Interval, _ = flags.GetDuration(IntervalFlag)
	}

	if flags.Changed(OutputFormatFlag) {
		conf.Run.Output, _ = flags.GetString(OutputFormatFlag)
	}

	if flags.Changed(VerifyTLSFlag) {
		verifyTLS, _ := flags.GetBool(VerifyTLSFlag)
		conf.Registry.TLSVerify = &verifyTLS
	}

	if flags.Changed(CertDirFlag) {
		conf.Registry.CertDir, _ = flags.GetString(CertDirFlag)
	}

	if flags.Changed(AuditLogFlag) {
		conf.Log.Audit, _ = flags.GetString(AuditLogFlag)
	}

	if debug, _ := flags.GetBool(DebugFlag); debug {
		conf.Log.Level = "debug"
	}

	return nil
}

// splitUser splits "username:password"; a value without a colon is a
// username with an empty password.
func splitUser(user string) (string, string) {
	username, password, _ := strings.Cut(user, ":")

	return username, password
}

func runCleanup(cmd *cobra.Command, conf *config.Config) error {
	logger := log.NewLogger(conf.Log.Level, conf.Log.Output)
	audit := log.NewAuditLogger(conf.Log.Level, conf.Log.Audit)

	remote, err := registry.NewRemote(registry.RemoteOptions{
		URL:        conf.Registry.URL,
		Username:   conf.Registry.Username,
		Password:   conf.Registry.Password,
		TLSVerify:  conf.TLSVerify(),
		CertDir:    conf.Registry.CertDir,
		MaxRetries: conf.Registry.MaxRetries,
		RetryDelay: conf.Registry.RetryDelay,
	}, logger)
	if err != nil {
		return err
	}

	policy := retention.Policy{
		MaxAge:         conf.MaxAge(),
		CleanupAll:     conf.Policy.CleanupAll,
		DeleteUntagged: conf.DeleteUntagged(),
		DeployedImages: conf.Policy.DeployedImages,
		ExcludedRepos:  conf.Policy.ExcludedRepos,
	}

	parsed, _ := url.Parse(conf.Registry.URL)

	collector := gc.NewGarbageCollector(remote, policy, gc.Options{
		Registry:      parsed.Host,
		ResourceGroup: conf.Registry.ResourceGroup,
		DryRun:        conf.Run.DryRun,
		Workers:       conf.Run.Workers,
		MaxRetries:    conf.Registry.MaxRetries,
		RetryDelay:    conf.Registry.RetryDelay,
	}, logger, audit)

	ctx := cmd.Context()

	if conf.Run.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, conf.Run.Timeout)
		defer cancel()
	}

	spin := newSpinnerState(cmd.ErrOrStderr(), conf.Run.Output == config.OutputText && conf.Log.Level != "debug")

	if conf.Run.Interval > 0 {
		task := cleanupTask{
			collector: collector,
			writer:    cmd.OutOrStdout(),
			format:    conf.Run.Output,
			spin:      spin,
		}

		return scheduler.RunPeriodically(ctx, conf.Run.Interval, task, logger)
	}

	return runOnce(ctx, collector, cmd.OutOrStdout(), conf.Run.Output, spin)
}

func runOnce(ctx context.Context, collector gc.GarbageCollector, writer io.Writer, format string,
	spin spinnerState,
) error {
	spin.startSpinner()

	summary, err := collector.Run(ctx)

	spin.stopSpinner()

	if err != nil && !errors.Is(err, zerr.ErrRunIncomplete) {
		return err
	}

	if writeErr := writeSummary(writer, summary, format); writeErr != nil {
		return writeErr
	}

	return err
}

// cleanupTask adapts a collection run to the scheduler for interval
// mode.
type cleanupTask struct {
	collector gc.GarbageCollector
	writer    io.Writer
	format    string
	spin      spinnerState
}

func (t cleanupTask) Name() string {
	return "cleanup"
}

func (t cleanupTask) DoWork(ctx context.Context) error {
	return runOnce(ctx, t.collector, t.writer, t.format, t.spin)
}
