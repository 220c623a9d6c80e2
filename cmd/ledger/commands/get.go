package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var getOutput string

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value of a key at the page head",
	Long:  `Write the value stored under <key> to stdout (or -o file). Lazy values are fetched from the sync channels on demand.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := openPage(cmd, nil)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		head, err := page.Storage.Head(ctx)
		if err != nil {
			return err
		}
		entry, err := page.Storage.GetEntry(ctx, head, []byte(args[0]))
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if getOutput != "" {
			f, err := os.Create(getOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		if _, err := page.Storage.Export(ctx, entry.Identifier, w); err != nil {
			return fmt.Errorf("get failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "write the value to a file")
}
