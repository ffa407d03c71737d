// Command host runs the dev remote against the local desktop: frames are
// captured from a display and input events are injected with robotgo.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"streamviewer/internal/config"
	"streamviewer/internal/desktop"
	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
	"streamviewer/internal/server"
)

func main() {
	var (
		configPath string
		addr       string
		apiKey     string
		display    int
		mode       string
		viewOnly   bool
	)

	cmd := &cobra.Command{
		Use:           "host",
		Short:         "Share this desktop with streamviewer clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("addr") {
				cfg.Remote.Addr = addr
			}
			if f.Changed("display") {
				cfg.Remote.Display = display
			}
			if f.Changed("mode") {
				cfg.Remote.Mode = mode
			}
			if apiKey != "" {
				cfg.APIKey = apiKey
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logger.New(cfg.LogLevel)
			defer log.Sync()

			src, err := desktop.NewScreenSource(desktop.Options{
				Display: cfg.Remote.Display,
				Quality: cfg.Remote.Quality,
				Mode:    cfg.Remote.Mode,
			})
			if err != nil {
				return errors.Wrap(err, "screen source")
			}
			log.Info("capturing display",
				zap.Int("display", cfg.Remote.Display),
				zap.Stringer("bounds", src.Bounds()))

			var sink server.InputSink = desktop.NewRobotSink(desktop.Robot{}, src.Bounds(), log.Named("inject"))
			if viewOnly {
				sink = server.LogSink{Log: log.Named("input")}
			}

			srv, err := server.New(server.Options{
				Config:           cfg.Remote,
				APIKey:           cfg.APIKey,
				StreamNamespace:  cfg.StreamNamespace,
				ControlNamespace: cfg.ControlNamespace,
				SocketPath:       cfg.SocketPath,
				Source:           src,
				Sink:             sink,
				Log:              log,
				Metrics:          metrics.New(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.StringVar(&apiKey, "api-key", "", "shared secret; required when remote.auth_required is set")
	f.IntVar(&display, "display", 0, "display index to capture")
	f.StringVar(&mode, "mode", "cdp", "streaming mode: cdp (jpeg frames) or screenshot (png snapshots)")
	f.BoolVar(&viewOnly, "view-only", false, "log input events instead of injecting them")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
