package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Record staged changes as a new commit",
	Long:  `Open a journal on the page, apply every staged put and delete, and commit it atomically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := openPage(cmd, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		// 1. 暂存区为空就不提交
		if page.Index.IsEmpty() {
			fmt.Fprintln(out, "nothing to commit, index is empty")
			return nil
		}

		ctx := cmd.Context()
		start := time.Now()

		// 2. 暂存操作写进 Journal
		j, err := page.Storage.StartJournal()
		if err != nil {
			return err
		}
		if err := page.Index.Apply(ctx, j); err != nil {
			_ = j.Rollback()
			return fmt.Errorf("failed to apply index: %w", err)
		}

		// 3. 原子提交，失败时 head 不变，暂存区保留以便重试
		commit, err := j.Commit(ctx)
		if err != nil {
			return fmt.Errorf("commit failed: %w", err)
		}

		// 4. 清理暂存区
		// Commit 已经成功，清空失败只打印警告
		page.Index.Reset()
		if err := page.Index.Save(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to clear index: %v\n", err)
		}

		fmt.Fprintf(out, "[%s %s] generation %d\n", currentPage(), commit.ID()[:8], commit.Generation)
		fmt.Fprintf(out, "   Time: %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commitCmd)
}
