package commands

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"ledgervault/pkg/core"
	"ledgervault/pkg/ignore"
	"ledgervault/pkg/index"

	"github.com/spf13/cobra"
)

var putLazy bool

var putCmd = &cobra.Command{
	Use:   "put <key> [file|dir|-]",
	Short: "Stage a value for the next commit",
	Long: `Store the content of a file (or stdin) and stage it under <key>.
A directory is imported recursively: every file not excluded by .ledgerignore is staged
under <key>/<relative path>. Staged values are written by 'ledger commit'.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := openPage(cmd, nil)
		if err != nil {
			return err
		}

		key := index.CleanPath(args[0])
		src := "-"
		if len(args) == 2 {
			src = args[1]
		}
		priority := core.PriorityEager
		if putLazy {
			priority = core.PriorityLazy
		}

		out := cmd.OutOrStdout()
		start := time.Now()
		var staged int
		var total uint64

		// stageOne 存储内容并写进暂存区 (内存操作)
		stageOne := func(key string, r io.Reader, source string) error {
			id, size, err := page.Storage.AddObject(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", source, err)
			}
			page.Index.Put(key, id, priority, size, source)
			staged++
			total += size
			fmt.Fprintf(out, "staged %s (%d bytes, %s)\n", key, size, priority)
			return nil
		}

		switch info, statErr := os.Stat(src); {
		case src == "-":
			err = stageOne(key, cmd.InOrStdin(), "stdin")
		case statErr != nil:
			return statErr
		case info.IsDir():
			err = stageDir(src, key, stageOne)
		default:
			err = stageFile(src, key, stageOne)
		}
		if err != nil {
			return err
		}

		// 批量落盘
		if err := page.Index.Save(); err != nil {
			return fmt.Errorf("failed to save index: %w", err)
		}
		fmt.Fprintf(out, "Staged %d value(s) (%d bytes) in %s\n", staged, total, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func stageFile(file, key string, stage func(string, io.Reader, string) error) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return stage(key, f, file)
}

// stageDir 递归导入目录，key 前缀加上相对路径
func stageDir(dir, prefix string, stage func(string, io.Reader, string) error) error {
	matcher, err := ignore.NewMatcher(dir)
	if err != nil {
		return fmt.Errorf("failed to load ignore rules: %w", err)
	}
	return matcher.Walk(func(rel, abs string) error {
		key := rel
		if prefix != "." {
			key = path.Join(prefix, rel)
		}
		return stageFile(abs, key, stage)
	})
}

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().BoolVar(&putLazy, "lazy", false, "let replicas fetch the value on first read instead of with the commit")
}
