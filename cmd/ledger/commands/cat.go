package commands

import (
	"fmt"
	"strings"

	"ledgervault/pkg/app"
	"ledgervault/pkg/core"
	"ledgervault/pkg/exporter"
	"ledgervault/pkg/status"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <commit-id|digest>",
	Short: "Show the structure of a commit or an object",
	Long: `With a commit id (or unique prefix) print the commit and its tree.
With an object digest (hex) print the object: a FileIndex lists its children, a value prints its size.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := openPage(cmd, nil)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		// 1. 先按提交解析
		commit, err := findCommit(cmd, page, args[0])
		if err == nil {
			exporter.PrintCommit(commit, out)
			tree, err := page.Storage.GetTree(ctx, commit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			exporter.PrintTree(tree, out)
			return nil
		}
		if status.CodeOf(err) != status.NotFound {
			return err
		}

		// 2. 再按对象摘要解析
		d, perr := core.ParseObjectDigestHex(args[0])
		if perr != nil {
			return fmt.Errorf("%q is neither a commit nor an object digest: %w", args[0], perr)
		}
		exp := exporter.NewExporter(page.Storage.Objects())
		return exp.PrintObject(ctx, core.NewObjectIdentifier(d), out)
	},
}

// findCommit 按完整 id 或唯一前缀查找提交
func findCommit(cmd *cobra.Command, page *app.Page, arg string) (*core.Commit, error) {
	ctx := cmd.Context()
	history, err := page.Storage.Log(ctx, 0)
	if err != nil {
		if status.CodeOf(err) == status.NotFound {
			return nil, status.Errorf(status.NotFound, "no commits yet")
		}
		return nil, err
	}

	var match *core.Commit
	for _, c := range history {
		if !strings.HasPrefix(string(c.ID()), arg) {
			continue
		}
		if match != nil {
			return nil, status.Errorf(status.IllegalState, "commit prefix %q is ambiguous", arg)
		}
		match = c
	}
	if match == nil {
		return nil, status.Errorf(status.NotFound, "commit %q not found", arg)
	}
	return match, nil
}

func init() {
	rootCmd.AddCommand(catCmd)
}
