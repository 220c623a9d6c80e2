package commands

import (
	"fmt"
	"io"
	"time"

	"ledgervault/pkg/core"

	"github.com/spf13/cobra"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the commit history of the page",
	Long:  `Walk the commit DAG from the heads, newest first (by generation, timestamp, id). Merge commits list every parent.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := openPage(cmd, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		history, err := page.Storage.Log(cmd.Context(), logLimit)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Fprintln(out, "No commits yet.")
			return nil
		}
		for _, c := range history {
			printCommitLog(out, c)
		}
		return nil
	},
}

// printCommitLog 仿 git log 的输出格式
func printCommitLog(w io.Writer, c *core.Commit) {
	const (
		colorYellow = "\033[33m"
		colorReset  = "\033[0m"
	)

	fmt.Fprintf(w, "%scommit %s%s\n", colorYellow, c.ID(), colorReset)
	if c.IsMerge() {
		parents := c.ParentIDs()
		fmt.Fprintf(w, "Merge:      %s %s\n", parents[0][:8], parents[1][:8])
	}
	fmt.Fprintf(w, "Generation: %d\n", c.Generation)
	fmt.Fprintf(w, "Date:       %s\n\n", c.Time().Format(time.RFC1123))
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "show at most n commits (0 = all)")
}
