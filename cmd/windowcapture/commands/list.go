package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bryanchriswhite/WindowCapture/internal/window"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List visible windows",
	Long: `List the top-level windows known to the window backend, with the titles
that can be passed to --title.`,
	Example: `  # List windows in table format (default)
  windowcapture list

  # List windows in JSON format
  windowcapture list --format json

  # Only windows whose title or class matches a regex
  windowcapture list --match "(?i)scrolls"`,
	RunE: runList,
}

var (
	listFormat string
	listMatch  string
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().StringVarP(&listMatch, "match", "m", "", "regex matched against title and class")
}

func runList(cmd *cobra.Command, args []string) error {
	windowMgr, err := window.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize window manager: %w", err)
	}
	defer windowMgr.Stop()

	windows, err := windowMgr.ListWindows()
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	windows, err = window.FilterWindows(windows, listMatch)
	if err != nil {
		return err
	}

	return printWindows(cmd.OutOrStdout(), windows, listFormat)
}

func printWindows(out io.Writer, windows []*window.Info, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(windows)
	case "table":
		return printWindowsTable(out, windows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", format)
	}
}

func printWindowsTable(out io.Writer, windows []*window.Info) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "HANDLE\tTITLE\tCLASS\tPID\tGEOMETRY")
	fmt.Fprintln(w, "------\t-----\t-----\t---\t--------")

	for _, win := range windows {
		fmt.Fprintf(w, "%#x\t%s\t%s\t%d\t%dx%d at (%d, %d)\n",
			uint64(win.Handle), win.Title, win.Class, win.PID,
			win.Rect.Dx(), win.Rect.Dy(), win.Rect.Min.X, win.Rect.Min.Y)
	}

	return w.Flush()
}
