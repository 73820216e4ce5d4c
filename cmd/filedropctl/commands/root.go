// Package commands implements the filedropctl CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/filedrop-dev/filedrop/pkg/client"
	"github.com/filedrop-dev/filedrop/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	flagHost string
	flagPort int
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "filedropctl",
	Short: "Filedrop client",
	Long: `filedropctl talks to a filedropd server: list the served directory,
download files, upload files, or drive the same commands interactively
with "filedropctl shell".

Use "filedropctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/filedrop/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagHost, "host", "H", "", "server host (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&flagPort, "port", "p", 0, "server port (overrides config)")

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// connect dials the server using config defaults overridden by flags. The
// caller owns the returned client.
func connect() (*client.Client, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	host := cfg.Client.Host
	if flagHost != "" {
		host = flagHost
	}
	port := cfg.Client.Port
	if flagPort != 0 {
		port = flagPort
	}

	return client.Dial(client.Config{
		Host:        host,
		Port:        port,
		DialTimeout: cfg.Client.DialTimeout,
	})
}
