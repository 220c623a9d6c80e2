package commands

import (
	"fmt"

	"ledgervault/pkg/index"

	"github.com/spf13/cobra"
)

var rmCached bool

var rmCmd = &cobra.Command{
	Use:   "rm <keys...>",
	Short: "Stage the deletion of keys",
	Long: `Stage deletions for the next commit. With --cached the keys are only unstaged:
pending puts or deletes on them are dropped and the page is left untouched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := openPage(cmd, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		for _, k := range args {
			key := index.CleanPath(k)
			if rmCached {
				page.Index.Unstage(key)
				fmt.Fprintf(out, "unstaged %s\n", key)
				continue
			}
			page.Index.Delete(key)
			fmt.Fprintf(out, "staged delete %s\n", key)
		}

		if err := page.Index.Save(); err != nil {
			return fmt.Errorf("failed to save index: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolVar(&rmCached, "cached", false, "only drop the staged operation")
}
