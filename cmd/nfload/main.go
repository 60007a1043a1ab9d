// nfload streams a neuFlow bytecode image to the accelerator over the raw
// Ethernet link.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neuflow/nfeth"
	"github.com/neuflow/nfeth/internal/config"
	appversion "github.com/neuflow/nfeth/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain after the load completes.
const shutdownTimeout = 5 * time.Second

// Flags bound on the root command.
var (
	configPath  string
	ifaceName   string
	remoteMAC   string
	localMAC    string
	metricsAddr string
	logLevel    string
	logFormat   string
)

// rootCmd loads one bytecode image and exits.
var rootCmd = &cobra.Command{
	Use:   "nfload <bytecode-file>",
	Short: "Load a bytecode image onto the neuFlow accelerator",
	Long: "nfload opens the raw Ethernet link to the neuFlow accelerator, drives\n" +
		"the reset handshake, and streams the given bytecode image to the device.",
	Args:          cobra.ExactArgs(1),
	RunE:          runLoad,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), appversion.Full("nfload"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to configuration file (YAML)")
	rootCmd.Flags().StringVar(&ifaceName, "iface", "",
		"network interface the accelerator is attached to")
	rootCmd.Flags().StringVar(&remoteMAC, "remote-mac", "",
		"accelerator MAC address")
	rootCmd.Flags().StringVar(&localMAC, "local-mac", "",
		"host MAC address (default broadcast)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"listen address for the Prometheus endpoint (empty disables)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "",
		"log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "",
		"log format: text, json")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runLoad wires configuration, logging, metrics, and the driver together
// and streams the image.
func runLoad(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	overlayFlags(cfg)

	logger := newLogger(cfg.Log)

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read bytecode image: %w", err)
	}

	logger.Info("nfload starting",
		slog.String("version", appversion.Version),
		slog.String("image", args[0]),
		slog.Int("image_bytes", len(image)),
		slog.String("iface", cfg.Link.Interface),
		slog.String("remote_mac", cfg.Link.RemoteMAC),
	)

	var reg prometheus.Registerer
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Addr != "" {
		reg = registry
	}

	session, err := nfeth.Open(nfeth.Config{
		Interface:  cfg.Link.Interface,
		RemoteMAC:  cfg.Link.RemoteMAC,
		LocalMAC:   cfg.Link.LocalMAC,
		Logger:     logger,
		Registerer: reg,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	var g errgroup.Group

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

		g.Go(func() error {
			logger.Info("metrics endpoint listening",
				slog.String("addr", cfg.Metrics.Addr),
				slog.String("path", cfg.Metrics.Path),
			)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer shutdownMetrics(metricsSrv, logger)

		if err := session.SendReset(); err != nil {
			return err
		}
		logger.Info("device reset complete")

		start := time.Now()
		if err := session.SendBytes(image); err != nil {
			return err
		}
		logger.Info("bytecode image loaded",
			slog.Int("bytes", len(image)),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil
	})

	return g.Wait()
}

// shutdownMetrics drains the metrics server, if one is running.
func shutdownMetrics(srv *http.Server, logger *slog.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
	}
}

// overlayFlags applies non-empty command-line flags over the file/env
// configuration.
func overlayFlags(cfg *config.Config) {
	if ifaceName != "" {
		cfg.Link.Interface = ifaceName
	}
	if remoteMAC != "" {
		cfg.Link.RemoteMAC = remoteMAC
	}
	if localMAC != "" {
		cfg.Link.LocalMAC = localMAC
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

// newLogger builds the process logger from the log configuration.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
