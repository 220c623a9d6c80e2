package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ledgervault/pkg/core"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <prefix> <dir>",
	Short: "Write every key under a prefix into a directory",
	Long: `Restore the values whose key starts with <prefix> as files under <dir>.
The prefix and the following slash are stripped from the file path; use "." to export the whole page.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := openPage(cmd, nil)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		prefix, dir := args[0], args[1]

		head, err := page.Storage.Head(ctx)
		if err != nil {
			return err
		}
		tree, err := page.Storage.GetTree(ctx, head)
		if err != nil {
			return err
		}

		var count int
		for _, e := range tree.Entries {
			rel, ok := exportPath(prefix, e)
			if !ok {
				continue
			}
			target := filepath.Join(dir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.Create(target)
			if err != nil {
				return err
			}
			n, err := page.Storage.Export(ctx, e.Identifier, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("failed to export %s: %w", e.Key, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s (%d bytes)\n", rel, n)
			count++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d value(s) to %s\n", count, dir)
		return nil
	},
}

// exportPath 计算 key 在导出目录中的相对路径，拒绝逃逸出目录的 key
func exportPath(prefix string, e core.Entry) (string, bool) {
	key := string(e.Key)
	rel := key
	if prefix != "." {
		if key != prefix && !strings.HasPrefix(key, prefix+"/") {
			return "", false
		}
		rel = strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
		if rel == "" {
			rel = filepath.Base(prefix)
		}
	}
	if bytes.IndexByte(e.Key, 0) >= 0 || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", false
	}
	return rel, true
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
