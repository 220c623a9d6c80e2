package commands

import (
	"fmt"
	"text/tabwriter"

	"ledgervault/pkg/index"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/types"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the page heads, unsynced commits and staged operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := openPage(cmd, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "On page %s\n", currentPage())
		if err := printHeads(cmd, page.Storage); err != nil {
			return err
		}

		// 1. 每个通道的未同步提交
		for _, ch := range types.AllChannels {
			pending, err := page.Storage.GetUnsyncedCommits(cmd.Context(), ch)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Unsynced (%s): %d\n", ch, len(pending))
		}

		// 2. 暂存区
		staged := page.Index.Sorted()
		if len(staged) == 0 {
			fmt.Fprintln(out, "\nnothing staged")
			return nil
		}
		fmt.Fprintln(out, "\nStaged:")
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, e := range staged {
			if e.Op == index.OpDelete {
				fmt.Fprintf(tw, "  delete\t%s\t\t\n", e.Key)
				continue
			}
			fmt.Fprintf(tw, "  put\t%s\t%d bytes\t%s\n", e.Key, e.Size, e.Priority)
		}
		return tw.Flush()
	},
}

// printHeads 打印当前 head，多个 head 表示还没合并
func printHeads(cmd *cobra.Command, ps *pagestorage.PageStorage) error {
	heads, err := ps.GetHeadCommits(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(heads) == 0 {
		fmt.Fprintln(out, "No commits yet.")
		return nil
	}
	for _, h := range heads {
		fmt.Fprintf(out, "head %s (generation %d)\n", h.ID(), h.Generation)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
