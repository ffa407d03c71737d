package main

import (
	"github.com/spf13/cobra"

	"streamviewer/internal/metrics"
	"streamviewer/internal/server"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		addr   string
		mode   string
		fps    int
		width  int
		height int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a development remote with a synthetic frame source",
		Long: `Serves the auth, health and Socket.IO endpoints the viewer talks to.
Frames are a generated test pattern and input events are only logged.
Use host/ for a remote backed by the real desktop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Remote.Addr = addr
			}
			if mode != "" {
				cfg.Remote.Mode = mode
			}
			if fps > 0 {
				cfg.Remote.FPS = fps
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			rc := cfg.Remote

			log := newLogger(cfg)
			defer log.Sync()

			ctx, stop := signalContext()
			defer stop()

			srv, err := server.New(server.Options{
				Config:           rc,
				APIKey:           cfg.APIKey,
				StreamNamespace:  cfg.StreamNamespace,
				ControlNamespace: cfg.ControlNamespace,
				SocketPath:       cfg.SocketPath,
				Source:           server.NewPatternSource(width, height, rc.Mode, rc.Quality),
				Log:              log,
				Metrics:          metrics.New(),
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "listen address (overrides remote.addr)")
	f.StringVar(&mode, "mode", "", "streaming mode: cdp or screenshot")
	f.IntVar(&fps, "fps", 0, "frames per second")
	f.IntVar(&width, "width", 640, "pattern width")
	f.IntVar(&height, "height", 360, "pattern height")
	return cmd
}
