package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/netreactor/reactor-go/contextthread"
	"github.com/netreactor/reactor-go/examples/echo"
	"github.com/netreactor/reactor-go/internal/config"
	"github.com/netreactor/reactor-go/internal/log"
	"github.com/netreactor/reactor-go/internal/metrics"
	"github.com/netreactor/reactor-go/internal/timer"
	"github.com/netreactor/reactor-go/service"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "host a TCP or UDP echo service",
	}

	tcpCmd := &cobra.Command{
		Use:   "tcp",
		Short: "host the TCP echo service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), "tcp", addr)
		},
	}
	tcpCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config file's tcp_addr")

	udpCmd := &cobra.Command{
		Use:   "udp",
		Short: "host the UDP echo service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), "udp", addr)
		},
	}
	udpCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config file's udp_addr")

	cmd.AddCommand(tcpCmd, udpCmd)
	return cmd
}

func loadConfig() (*config.ServerConfig, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func runServe(ctx context.Context, proto, addrOverride string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}
	logger, err := log.New(level)
	if err != nil {
		return fmt.Errorf("reactorctl: build logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New("reactorctl", proto, reg)

	var stopMetrics func()
	if cfg.MetricsAddr != "" {
		stopMetrics = serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stopMetrics()
	}

	var ct interface {
		Start() error
		Close()
	}

	switch proto {
	case "tcp":
		addr := cfg.TCPAddr
		if addrOverride != "" {
			addr = addrOverride
		}
		idleTimers := timer.New()
		idleTimers.SetGauge(metricsRegistry.TimersArmed)
		host := contextthread.New(func() *service.TCPService[echo.Handler] {
			return &service.TCPService[echo.Handler]{
				Address:     addr,
				Handler:     echo.Handler{Log: logger.Named("echo")},
				BufferSize:  cfg.BufferSize,
				IdleTimeout: cfg.IdleTimeout.Duration,
				Timers:      idleTimers,
				Log:         logger.Named("tcp"),
				Metrics:     metricsRegistry,
			}
		}).WithLogger(logger.Named("contextthread.tcp")).
			WithMetrics(metricsRegistry).
			WithTerminateEscalation(cfg.TerminateEscalation.Duration)
		ct = host
		if err := host.Start(); err != nil {
			return fmt.Errorf("reactorctl: start tcp service: %w", err)
		}
		logger.Info("tcp service started")
	case "udp":
		addr := cfg.UDPAddr
		if addrOverride != "" {
			addr = addrOverride
		}
		host := contextthread.New(func() *service.UDPService[echo.Handler] {
			return &service.UDPService[echo.Handler]{
				Address:    addr,
				Handler:    echo.Handler{Log: logger.Named("echo")},
				BufferSize: cfg.BufferSize,
				Log:        logger.Named("udp"),
				Metrics:    metricsRegistry,
			}
		}).WithLogger(logger.Named("contextthread.udp")).
			WithMetrics(metricsRegistry).
			WithTerminateEscalation(cfg.TerminateEscalation.Duration)
		ct = host
		if err := host.Start(); err != nil {
			return fmt.Errorf("reactorctl: start udp service: %w", err)
		}
		logger.Info("udp service started")
	default:
		return fmt.Errorf("reactorctl: unknown protocol %q", proto)
	}

	waitForSignal(ctx)
	ct.Close()
	return nil
}

func waitForSignal(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *log.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server exited")
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
