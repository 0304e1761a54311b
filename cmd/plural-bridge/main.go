// Command plural-bridge drives a browser tool server over stdio: it lists and
// calls the server's tools, sweeps orphaned browser processes and can act as
// a fake tool server for testing.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-bridge/config"
	"github.com/zhubert/plural-bridge/logger"
	"github.com/zhubert/plural-bridge/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	configPath  string
	debug       bool
	logStderr   bool
	metricsAddr string

	cfg     *config.Config
	metrics *http.Server
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "plural-bridge",
		Short:        "Drive a browser tool server over stdio",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			opts.teardown()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: config.yaml in the config dir)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.logStderr, "log-stderr", false, "Log to stderr instead of the log file")
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9101)")

	cmd.AddCommand(
		newToolsCmd(opts),
		newCallCmd(opts),
		newSweepCmd(opts),
		newServeFakeCmd(opts),
		newConfigCmd(opts),
		newDoctorCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// setup initializes logging, loads the configuration and starts the
// metrics endpoint when asked to.
func (o *options) setup() error {
	if o.logStderr {
		logger.InitWriter(os.Stderr)
	} else if path, err := logger.DefaultLogPath(); err == nil {
		if err := logger.Init(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	var err error
	if o.configPath != "" {
		o.cfg, err = config.LoadFile(o.configPath)
	} else {
		o.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.SetDebug(o.debug || o.cfg.Debug)

	addr := o.metricsAddr
	if addr == "" {
		addr = o.cfg.MetricsAddr
	}
	if addr != "" {
		o.serveMetrics(addr)
	}
	return nil
}

func (o *options) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	o.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := logger.WithComponent("metrics")
	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := o.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
}

func (o *options) teardown() {
	if o.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = o.metrics.Shutdown(ctx)
}
