package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/filedrop-dev/filedrop/internal/cli/prompt"
	"github.com/filedrop-dev/filedrop/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file populated with defaults, ready to edit.

Examples:
  # Create at the default location
  filedropd init

  # Create at a custom path, overwriting an existing file
  filedropd init --config /etc/filedrop/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		ok, err := prompt.Confirm(fmt.Sprintf("Config file %s exists, overwrite", path), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration to point at the directory to serve")
	fmt.Println("  2. Start the server with: filedropd serve")
	return nil
}
