package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	meshrpc "ledgervault/pkg/api/meshrpc/v1"
	"ledgervault/pkg/app"
	"ledgervault/pkg/config"
	"ledgervault/pkg/pagesync"
	"ledgervault/pkg/server"
	"ledgervault/pkg/service"
	"ledgervault/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is $HOME/.ledger/config.yaml)")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	// 对端进程总是启用 p2p 通道
	viper.Set("p2p.enabled", true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Init Core Application
	application, err := app.NewApp(ctx)
	if err != nil {
		logrus.Fatalf("failed to initialize app: %v", err)
	}
	log := application.Log.WithField("node", application.P2P.NodeID())

	if err := run(ctx, application, log); err != nil {
		log.WithError(err).Error("peer stopped with error")
		_ = application.Close()
		os.Exit(1)
	}
	if err := application.Close(); err != nil {
		log.WithError(err).Warn("failed to close app cleanly")
	}
	log.Info("peer stopped")
}

func run(ctx context.Context, a *app.App, log logrus.FieldLogger) error {
	// 1. 打开并开始同步配置的页面
	for _, p := range a.Config.P2P.Pages {
		page, err := a.OpenPage(ctx, types.PageID(p), pagesync.PageSyncClientFunc(func(ch types.Channel, s pagesync.SyncState) {
			log.WithFields(logrus.Fields{"page": p, "channel": ch, "state": s}).Debug("sync state changed")
		}), nil)
		if err != nil {
			return err
		}
		page.Sync.Start()
		log.WithField("page", p).Info("page syncing")
	}

	// 2. Setup Network
	lis, err := net.Listen("tcp", a.Config.P2P.Listen)
	if err != nil {
		return err
	}

	// 3. Setup gRPC Server
	grpcServer := server.NewServer(log)
	meshrpc.RegisterMeshServer(grpcServer, service.NewMeshService(a.P2P))

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", lis.Addr().String()).Info("mesh server listening")
		errCh <- grpcServer.Serve(lis)
	}()

	// 4. Graceful Shutdown
	select {
	case <-ctx.Done():
		log.Info("shutting down mesh server")
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
