package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <filename> [local-path]",
	Short: "Download a file from the server",
	Long: `Download a file by name into the current directory, or into
local-path when given.

Examples:
  # Download report.pdf into the current directory
  filedropctl get report.pdf

  # Download under a different local name
  filedropctl get report.pdf /tmp/report-copy.pdf`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	name := args[0]
	localPath := ""
	if len(args) == 2 {
		localPath = args[1]
	}

	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Quit()

	n, err := c.Get(name, localPath)
	if err != nil {
		return err
	}

	fmt.Printf("Downloaded %s (%d bytes)\n", name, n)
	return nil
}
