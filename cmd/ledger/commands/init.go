package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a ledger repository",
	Long:  `Create an empty ledger repository (.ledger) in the current directory, or do nothing if one exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		// 1. 仓库路径来自配置 (默认 ./.ledger)
		repoPath := viper.GetString("repo")
		if repoPath == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			repoPath = filepath.Join(wd, ".ledger")
		}

		// 2. 检查是否已存在
		if _, err := os.Stat(repoPath); err == nil {
			fmt.Fprintf(out, "Ledger repository already exists in %s\n", repoPath)
			return nil
		}

		// 3. 创建目录结构：分片、KV、暂存区
		for _, dir := range []string{
			viper.GetString("storage.path"),
			viper.GetString("kv.path"),
			filepath.Join(repoPath, "index"),
		} {
			if dir == "" {
				continue
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create repo directory: %w", err)
			}
		}
		if err := os.MkdirAll(repoPath, 0o755); err != nil {
			return fmt.Errorf("failed to create repo directory: %w", err)
		}

		fmt.Fprintf(out, "Initialized empty ledger repository in %s\n", repoPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
