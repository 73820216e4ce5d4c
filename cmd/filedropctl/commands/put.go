package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <local-path> [remote-name]",
	Short: "Upload a file to the server",
	Long: `Upload a local file. The remote name defaults to the file's base
name; the server rejects names containing path separators.

Examples:
  # Upload notes.txt under its own name
  filedropctl put notes.txt

  # Upload under a different remote name
  filedropctl put ./build/app-v2.tar.gz app.tar.gz`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPut,
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	name := filepath.Base(localPath)
	if len(args) == 2 {
		name = args[1]
	}

	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Quit()

	if err := c.Put(name, localPath); err != nil {
		return err
	}

	fmt.Printf("Uploaded %s as %s\n", localPath, name)
	return nil
}
