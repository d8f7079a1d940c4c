package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nimbusfs/blockstream/internal/api"
	"github.com/nimbusfs/blockstream/internal/archives"
	"github.com/nimbusfs/blockstream/internal/config"
	"github.com/nimbusfs/blockstream/internal/keys"
	"github.com/nimbusfs/blockstream/internal/slogutil"
	"github.com/nimbusfs/blockstream/internal/stats"
	"github.com/nimbusfs/blockstream/internal/storage"
	"github.com/nimbusfs/blockstream/internal/tokens"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the block-stream server",
		Long:  `Start the block-stream HTTP server using configuration from YAML file.`,
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger := slogutil.SetupLogRotation(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting blockstreamd",
		"log_file", cfg.Log.File,
		"log_level", cfg.Log.Level,
		"listen_addr", cfg.Server.ListenAddr,
		"data_root", cfg.Storage.DataRoot,
	)

	configManager := config.NewManager(cfg, configFile)
	levelUpdater := config.NewLoggingUpdater(cfg.Log.Level)
	configManager.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig.Log.Level != newConfig.Log.Level {
			if err := levelUpdater.UpdateLevel(newConfig.Log.Level); err != nil {
				logger.Error("failed to update log level", "err", err)
			} else {
				logger.Info("log level updated", "old", oldConfig.Log.Level, "new", newConfig.Log.Level)
			}
		}
	})

	db, err := storage.Open(storage.Config{Path: cfg.Database.Path})
	if err != nil {
		logger.Error("failed to open database", "err", err)
		return err
	}
	defer db.Close()

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.Storage.DataRoot, 0755); err != nil {
		logger.Error("failed to create data root", "err", err)
		return err
	}

	blockStore := storage.NewLocalBlockStore(fs, cfg.Storage.DataRoot, db.Conn())
	fsManager := storage.NewSQLiteFileSystemManager(db.Conn())
	tokenMgr := tokens.New(db.Conn())
	archiveMgr := archives.New(db.Conn())
	keyMgr := keys.New(db.Conn())
	statsReporter := stats.New(db.Conn())

	dispatcher := &api.Dispatcher{
		Tokens:   tokenMgr,
		Files:    fsManager,
		Blocks:   blockStore,
		Keys:     keyMgr,
		Archives: archiveMgr,
		Stats:    statsReporter,
		FS:       fs,
		Logger:   logger,
	}
	app := dispatcher.NewApp()

	janitor := cron.New()
	if _, err := janitor.AddFunc(cfg.Janitor.Schedule, func() {
		ctx := context.Background()
		if n, err := tokenMgr.DeleteExpired(ctx); err != nil {
			logger.Warn("janitor: failed to sweep expired tokens", "err", err)
		} else if n > 0 {
			logger.Info("janitor: swept expired tokens", "count", n)
		}
		if n, err := archiveMgr.DeleteOrphaned(ctx, cfg.Janitor.ZipProgressMaxAge); err != nil {
			logger.Warn("janitor: failed to sweep orphaned zip progress", "err", err)
		} else if n > 0 {
			logger.Info("janitor: swept orphaned zip progress", "count", n)
		}
	}); err != nil {
		logger.Error("failed to schedule janitor", "err", err)
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	errCh := make(chan error, 1)
	go func() {
		if err := app.Listen(cfg.Server.ListenAddr); err != nil {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}

	if err := app.ShutdownWithContext(context.Background()); err != nil {
		logger.Error("error during shutdown", "err", err)
	}
	statsReporter.Wait()

	logger.Info("blockstreamd shut down gracefully")
	return nil
}
