package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/filedrop-dev/filedrop/internal/logger"
	"github.com/filedrop-dev/filedrop/pkg/config"
	"github.com/filedrop-dev/filedrop/pkg/metrics"
	"github.com/filedrop-dev/filedrop/pkg/server"
)

var (
	serveDirectory string
	servePort      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the filedrop server",
	Long: `Start the filedrop server with the specified configuration.

Examples:
  # Serve with the default config location
  filedropd serve

  # Serve a specific directory on a specific port
  filedropd serve --directory /srv/drop --port 12345

  # Override any config value through the environment
  FILEDROP_LOGGING_LEVEL=DEBUG filedropd serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveDirectory, "directory", "d", "", "directory to serve (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "TCP port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return err
	}

	if serveDirectory != "" {
		cfg.Server.Directory = serveDirectory
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	logger.Info("starting filedropd", "version", Version, "commit", Commit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(server.Config{
		BindAddress:     cfg.Server.BindAddress,
		Port:            cfg.Server.Port,
		Directory:       cfg.Server.Directory,
		MaxConnections:  cfg.Server.MaxConnections,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ChunkSize:       cfg.Server.ChunkSize.Int(),
	})

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		srv.Metrics = metrics.NewSessionMetrics()

		metricsSrv = metrics.NewHTTPServer(cfg.Metrics.Port)
		go func() {
			logger.Info("metrics endpoint listening", "port", cfg.Metrics.Port)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	} else {
		logger.Info("metrics collection disabled")
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.ListenAndServe(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
		cancel()
		serveErr = <-serverDone

	case serveErr = <-serverDone:
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if serveErr != nil {
		return serveErr
	}
	logger.Info("server stopped")
	return nil
}
