package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"ledgervault/pkg/app"
	"ledgervault/pkg/config"
	"ledgervault/pkg/pagesync"
	"ledgervault/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DefaultPage 是未指定 --page 时操作的页面
const DefaultPage = "main"

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	LV *app.App
)

var rootCmd = &cobra.Command{
	Use:          "ledger",
	Short:        "LedgerVault: a synchronized key/value ledger",
	SilenceUsage: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init 命令负责创建环境，跳过依赖检查
		if cmd.Name() == "init" {
			return nil
		}

		var err error
		LV, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize ledger: %w\n(Did you run 'ledger init'?)", err)
		}
		return nil
	},
}

// Execute 是入口
func Execute() error {
	return ExecuteContext(context.Background(), os.Args[1:]...)
}

// ExecuteContext 执行一条命令，结束后 (包括失败) 释放 App
func ExecuteContext(ctx context.Context, args ...string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if LV != nil {
		err = errors.Join(err, LV.Close())
		LV = nil
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	// 1. 全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ledger/config.yaml)")

	// 2. 可以被 yaml / 环境变量 / flag 覆盖的参数
	rootCmd.PersistentFlags().String("page", DefaultPage, "page to operate on")
	rootCmd.PersistentFlags().String("storage-path", "", "directory to store object pieces")
	for key, flag := range map[string]string{
		"page":         "page",
		"storage.path": "storage-path",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Println("Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}

func currentPage() types.PageID {
	if p := viper.GetString("page"); p != "" {
		return types.PageID(p)
	}
	return DefaultPage
}

// openPage 打开当前页面。返回的页面在命令结束时由 LV.Close 统一关闭。
func openPage(cmd *cobra.Command, client pagesync.PageSyncClient) (*app.Page, error) {
	if LV == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return LV.OpenPage(cmd.Context(), currentPage(), client, func(err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "sync stopped: %v\n", err)
	})
}
