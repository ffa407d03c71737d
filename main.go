package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"streamviewer/internal/config"
	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	configPath  string
	baseURL     string
	apiKey      string
	logLevel    string
	metricsAddr string
}

func main() {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "streamviewer",
		Short: "Watch and take over a remotely driven browser session",
		Long: `streamviewer connects to a streaming remote over two Socket.IO
channels: one carries frames, the other arbitrates a single-writer
control lock. Take control to pause the agent and drive the remote
surface yourself, then hand it back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&g.baseURL, "base-url", "", "remote base URL (overrides config)")
	pf.StringVar(&g.apiKey, "api-key", "", "shared secret for the auth handshake")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		watchCmd(&g),
		serveCmd(&g),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// load reads the config file and applies flag overrides on top.
func (g *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	if g.baseURL != "" {
		cfg.BaseURL = g.baseURL
	}
	if g.apiKey != "" {
		cfg.APIKey = g.apiKey
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.metricsAddr != "" {
		cfg.MetricsAddr = g.metricsAddr
	}
	return cfg, cfg.Validate()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveMetrics exposes m on addr until ctx is done. An empty addr is a
// no-op.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log *zap.Logger) {
	if addr == "" {
		return
	}
	srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func newLogger(cfg config.Config) *zap.Logger {
	return logger.New(cfg.LogLevel)
}

func versionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version)
				return
			}
			fmt.Printf("streamviewer %s (%s)\n", version, commit)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return cmd
}
