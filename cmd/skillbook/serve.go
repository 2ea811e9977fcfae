package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jingkaihe/skillbook/pkg/logger"
	"github.com/jingkaihe/skillbook/pkg/presenter"
	"github.com/jingkaihe/skillbook/pkg/server"
	"github.com/jingkaihe/skillbook/pkg/watch"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = withTracing(&cobra.Command{
	Use:   "serve",
	Short: "Serve skills, references and prompt assembly over HTTP",
	Long: `Start a local HTTP server exposing a JSON API:

  GET  /healthz
  GET  /api/skills
  GET  /api/skills/{name}
  GET  /api/skills/{name}/references
  GET  /api/skills/{name}/references/{chapter}   (?format=raw for markdown)
  POST /api/assemble

The server will be available at http://localhost:8765 by default.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx, watchEnabled(cmd))
	},
})

func init() {
	serveCmd.Flags().String("host", "localhost", "Host to bind the HTTP server to")
	serveCmd.Flags().Int("port", 8765, "Port to bind the HTTP server to")
	serveCmd.Flags().Bool("watch", false, "Reload skills when files in the skill directories change")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}

// validateServeConfig validates the listen address
func validateServeConfig(config *server.ServerConfig) error {
	if config.Host == "" {
		return errors.New("host cannot be empty")
	}

	if config.Host != "localhost" && config.Host != "0.0.0.0" {
		if ip := net.ParseIP(config.Host); ip == nil {
			if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
				return errors.Errorf("invalid host: %s", config.Host)
			}
		}
	}

	if err := config.Validate(); err != nil {
		return err
	}

	if config.Port < 1024 {
		logger.G(context.Background()).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}
	return nil
}

func runServe(ctx context.Context, watchFiles bool) error {
	config := &server.ServerConfig{Host: settings.Server.Host, Port: settings.Server.Port}
	if err := validateServeConfig(config); err != nil {
		return errors.Wrap(err, "invalid server configuration")
	}

	rt, err := buildRuntime(ctx, settings)
	if err != nil {
		return err
	}

	stop, err := startWatching(ctx, rt, watchFiles)
	if err != nil {
		return err
	}
	defer stop()

	srv, err := server.NewServer(config, rt.registry, rt.loader, rt.assembler)
	if err != nil {
		return err
	}

	presenter.Success(fmt.Sprintf("skillbook API listening on http://%s", config.Address()))
	presenter.Info("Press Ctrl+C to stop the server")

	if err := srv.Start(ctx); err != nil {
		return err
	}

	presenter.Info("Server stopped")
	return nil
}

// watchEnabled prefers an explicit --watch over the watch setting
func watchEnabled(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("watch") {
		enabled, _ := cmd.Flags().GetBool("watch")
		return enabled
	}
	return settings.Watch
}

// startWatching reloads the registry on file changes when enabled.
// The returned function stops the watcher.
func startWatching(ctx context.Context, rt *runtime, enabled bool) (func(), error) {
	if !enabled {
		return func() {}, nil
	}

	w, err := watch.New(rt.registry, rt.registry.Discovery().SkillDirs())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}
	if err := w.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to start watcher")
	}

	return func() {
		if err := w.Close(); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to close watcher")
		}
	}, nil
}
