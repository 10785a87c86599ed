package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/eon-neos/neosupdater/internal/config"
	"github.com/eon-neos/neosupdater/pkg/errors"
)

var rootCmd = &cobra.Command{
	Use:   "neosupdater [staging | local | bgcache <manifest-url> | <manifest-url>]",
	Short: "NEOS unattended OTA updater",
	Long: `Stages the NEOS OTA package (and recovery image, when the manifest has one),
flashes recovery, and reboots into the recovery installer.

With no arguments the production manifest is used. "staging" and "local"
select the configured alternates, any other argument is a manifest URL
(http, https or s3://bucket/key). "bgcache <manifest-url>" downloads and
verifies in the background without a display, then exits.`,
	Args:              cobra.MaximumNArgs(2),
	PersistentPreRunE: loadConfig,
	RunE:              runUpdate,
	SilenceUsage:      true,
}

// cfg is the effective configuration, loaded before any command runs.
var cfg *config.Config

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	defaults := viper.New()
	config.SetDefaults(defaults)

	flags := rootCmd.PersistentFlags()
	flags.String("update-dir", defaults.GetString("update-dir"), "Directory artifacts are staged in")
	flags.String("recovery-device", defaults.GetString("recovery-device"), "Recovery partition block device")
	flags.String("sqlite-path", defaults.GetString("sqlite-path"), "SQLite staging ledger path")
	flags.String("fsm-db-path", defaults.GetString("fsm-db-path"), "FSM state directory")
	flags.String("s3-region", defaults.GetString("s3-region"), "Region for s3:// URLs")
	flags.String("reboot-method", defaults.GetString("reboot-method"), "How to reboot into recovery: command or syscall")
	flags.Int("transfer-max-attempts", defaults.GetInt("transfer-max-attempts"), "Non-progressing download attempts allowed per artifact")
	flags.String("log-level", defaults.GetString("log-level"), "Log level: debug, info, warn, error")
	flags.String("log-file", defaults.GetString("log-file"), "Log destination (empty for stderr)")

	bindFlags(flags)
}

// bindFlags binds every flag in flags to the viper key of the same name.
func bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		viper.BindPFlag(f.Name, f)
	})
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := loaded.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	cfg = loaded

	return setupLogging(cfg)
}
