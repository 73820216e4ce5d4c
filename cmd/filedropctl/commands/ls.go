package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/filedrop-dev/filedrop/internal/cli/output"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the files on the server",
	Long: `List the server's directory contents.

Examples:
  # List against the configured server
  filedropctl ls

  # List against a specific server
  filedropctl ls --host 192.168.1.10 --port 12345`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Quit()

	listing, err := c.List()
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	if listing == "" {
		fmt.Println("No files found.")
		return nil
	}

	return output.PrintTable(os.Stdout, listingTable(listing))
}

// listingTable converts the raw "<name>\t<kind>" listing body into table
// data. Malformed lines are shown as-is rather than dropped.
func listingTable(listing string) *output.TableData {
	table := output.NewTableData("NAME", "TYPE")
	for _, line := range strings.Split(strings.TrimSuffix(listing, "\n"), "\n") {
		name, kind, found := strings.Cut(line, "\t")
		if !found {
			kind = "?"
		}
		table.AddRow(name, kind)
	}
	return table
}
