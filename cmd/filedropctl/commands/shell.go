package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/filedrop-dev/filedrop/internal/cli/output"
	"github.com/filedrop-dev/filedrop/internal/cli/prompt"
	"github.com/filedrop-dev/filedrop/pkg/client"
)

const shellHelp = `Commands:
  ls                          list server files
  get <filename> [local]      download a file
  put <local> [remote-name]   upload a file
  help                        show this help
  quit                        disconnect and exit`

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session with the server",
	Long: `Open one connection to the server and run commands against it
interactively. Unlike the one-shot subcommands, the whole session reuses
a single connection.

Example:
  filedropctl shell --host 192.168.1.10`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	c, err := connect()
	if err != nil {
		return err
	}

	fmt.Printf("Connected to %s. Type 'help' for commands.\n", c.RemoteAddr())

	for {
		line, err := prompt.Input("filedrop", "")
		if err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				return c.Quit()
			}
			_ = c.Close()
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if done := runShellCommand(c, fields); done {
			return c.Quit()
		}
	}
}

// runShellCommand executes one shell command line. Returns true when the
// session should end.
func runShellCommand(c *client.Client, fields []string) bool {
	switch fields[0] {
	case "ls", "list":
		listing, err := c.List()
		if err != nil {
			output.Error(os.Stderr, err.Error())
			return false
		}
		if listing == "" {
			fmt.Println("No files found.")
			return false
		}
		_ = output.PrintTable(os.Stdout, listingTable(listing))

	case "get":
		if len(fields) < 2 || len(fields) > 3 {
			fmt.Println("Usage: get <filename> [local-path]")
			return false
		}
		localPath := ""
		if len(fields) == 3 {
			localPath = fields[2]
		}
		n, err := c.Get(fields[1], localPath)
		if err != nil {
			output.Error(os.Stderr, err.Error())
			return false
		}
		output.Success(os.Stdout, fmt.Sprintf("Downloaded %s (%d bytes)", fields[1], n))

	case "put":
		if len(fields) < 2 || len(fields) > 3 {
			fmt.Println("Usage: put <local-path> [remote-name]")
			return false
		}
		name := filepath.Base(fields[1])
		if len(fields) == 3 {
			name = fields[2]
		}
		if err := c.Put(name, fields[1]); err != nil {
			output.Error(os.Stderr, err.Error())
			return false
		}
		output.Success(os.Stdout, fmt.Sprintf("Uploaded %s as %s", fields[1], name))

	case "help":
		fmt.Println(shellHelp)

	case "quit", "exit":
		return true

	default:
		fmt.Printf("Unknown command: %s. Type 'help' for commands.\n", fields[0])
	}
	return false
}
