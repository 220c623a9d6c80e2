package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"ledgervault/pkg/pagesync"
	"ledgervault/pkg/types"

	"github.com/spf13/cobra"
)

var syncWatch bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the page with the configured channels",
	Long: `Upload unsynced commits and fetch remote ones on every configured channel (peers first, then cloud).
With --watch the page keeps syncing in the background until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		client := pagesync.PageSyncClientFunc(func(ch types.Channel, state pagesync.SyncState) {
			fmt.Fprintf(out, "%-5s %s\n", ch, state)
		})
		page, err := openPage(cmd, client)
		if err != nil {
			return err
		}
		if len(page.Sync.Channels()) == 0 {
			fmt.Fprintln(out, "no sync channel configured (enable cloud.enabled or p2p.enabled)")
			return nil
		}

		// 1. 单轮同步
		if !syncWatch {
			if err := page.Sync.SyncOnce(cmd.Context()); err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			return printHeads(cmd, page.Storage)
		}

		// 2. 后台同步直到收到信号
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		page.Sync.Start()
		<-ctx.Done()
		fmt.Fprintln(out, "stopping sync...")
		return page.Close()
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false, "keep syncing in the background")
}
