package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/prism-ai/prism/internal/config"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/internal/server"
	"github.com/prism-ai/prism/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveNoWatch  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Prism HTTP API",
	Long: `Start Prism as a headless server that exposes an HTTP API.

Configured tool servers are connected at startup. Edits to the
configuration files are picked up while the server runs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, 4096)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default from config, 127.0.0.1)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not reload the configuration on change")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	serverConfig := server.ConfigFromSettings(a.config.Server)
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	if serveHostname != "" {
		serverConfig.Hostname = serveHostname
	}

	srv := server.New(serverConfig, server.Deps{
		AppConfig:  a.config,
		Registry:   a.registry,
		Chat:       a.chat,
		Providers:  a.providers,
		Secrets:    a.secrets,
		Bus:        a.bus,
		ConfigPath: config.GlobalConfigPath(),
	})

	logging.Info().Str("version", Version).Str("directory", a.dir).Msg("starting prism server")
	if err := srv.ConnectConfigured(ctx); err != nil {
		logging.Warn().Err(err).Msg("some servers failed to connect")
	}

	if !serveNoWatch {
		watcher, err := config.NewWatcher(a.dir, func(cfg *types.Config) {
			srv.ApplyConfig(ctx, cfg)
			a.bus.Publish(event.Event{
				Type: event.ConfigReloaded,
				Data: event.ConfigReloadedData{Servers: sortedServerIDs(cfg)},
			})
		})
		if err != nil {
			logging.Warn().Err(err).Msg("config watcher disabled")
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	newRenderer(cmd.OutOrStdout(), false).Muted("Listening on http://%s", srv.Addr())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-quit:
	}

	logging.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown error")
	}
	logging.Info().Msg("server stopped")
	return nil
}
