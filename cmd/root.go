// Package cmd wires the cobra command tree: impersonate runs the virtual
// cloud, provision drives a device through the ApCfg handoff, and
// gen-license mints a throwaway device identity for benign provisioning.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"cloudcutter/internal/logging"
)

var (
	configFile string
	verbose    bool
)

// shutdownTimeout bounds how long a subcommand waits for services to
// stop cleanly on SIGINT/SIGTERM before giving up.
const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:           "cloudcutter",
	Short:         "Impersonate the Tuya cloud and provision devices onto it",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `cloudcutter stands up a virtual Tuya cloud (DHCP, DNS, MQTT, HTTP/TLS)
that impersonated devices talk to instead of the real thing, and drives
unconfigured devices through the ApCfg pairing handoff to get them there.

  cloudcutter impersonate --config cloudcutter.hcl
  cloudcutter provision --config cloudcutter.hcl --uuid <uuid> --auth-key <key>
  cloudcutter gen-license`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "cloudcutter.hcl", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newImpersonateCmd())
	rootCmd.AddCommand(newProvisionCmd())
	rootCmd.AddCommand(newGenLicenseCmd())
}

// Execute runs the root command, returning any error for main to report.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging installs the default logger at debug or info level
// depending on the persistent --verbose flag.
func setupLogging() {
	cfg := logging.DefaultConfig()
	if verbose {
		cfg.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.New(cfg))
}
