package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justinkk04/BLE-mesh-networking-sub001/balancer"
	"github.com/justinkk04/BLE-mesh-networking-sub001/common"
	"github.com/justinkk04/BLE-mesh-networking-sub001/httpapi"
	"github.com/justinkk04/BLE-mesh-networking-sub001/metrics"
	"github.com/justinkk04/BLE-mesh-networking-sub001/mqtt"
	"github.com/justinkk04/BLE-mesh-networking-sub001/protocol"
	"github.com/justinkk04/BLE-mesh-networking-sub001/state"
	"github.com/justinkk04/BLE-mesh-networking-sub001/telemetry"
)

func main() {
	var configPath string
	var broker string
	var clientId string
	var listen string
	verbose := flag.Bool("v", false, "debug logging")
	flag.StringVar(&configPath, "config", "", "config file path")
	flag.StringVar(&broker, "broker", "", "mqtt broker url (overrides config)")
	flag.StringVar(&clientId, "id", "", "mqtt client id (overrides config)")
	flag.StringVar(&listen, "http", "", "http listen address (overrides config)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if broker != "" {
		cfg.Broker = broker
	}
	if clientId != "" {
		cfg.ClientId = clientId
	}
	if listen != "" {
		cfg.Http.Listen = listen
	}

	logger.Info("starting gateway", "broker", cfg.Broker, "prefix", cfg.TopicPrefix)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, err := mqtt.NewTransport(cfg, logger)
	if err != nil {
		logger.Error("mqtt transport", "error", err)
		os.Exit(1)
	}
	if err := transport.Open(ctx); err != nil {
		logger.Error("mqtt connect", "error", err)
		os.Exit(1)
	}
	defer transport.Close(context.Background())

	promReg := prometheus.NewRegistry()
	met := metrics.New(promReg)

	store := state.NewStore()
	engine := protocol.NewEngine(transport, protocol.NewRegistry(), store, cfg.Engine,
		protocol.WithLogger(logger), protocol.WithMetrics(met))
	if err := engine.Start(ctx); err != nil {
		logger.Error("engine start", "error", err)
		os.Exit(1)
	}

	bal := balancer.New(engine, store, cfg.Balancer,
		balancer.WithLogger(logger), balancer.WithMetrics(met))
	if err := bal.Start(ctx); err != nil {
		logger.Error("balancer start", "error", err)
		os.Exit(1)
	}

	if cfg.Kafka.Enabled {
		exporter := telemetry.NewExporter(cfg.Kafka, store, logger)
		go func() {
			if err := exporter.Run(ctx); err != nil {
				logger.Error("kafka exporter", "error", err)
			}
		}()
	}

	if cfg.Http.Enabled {
		metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
		server := httpapi.NewServer(engine, bal, store, metricsHandler, logger)
		go func() {
			if err := server.Run(ctx, cfg.Http.Listen); err != nil {
				logger.Error("http server", "error", err)
				cancel()
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("gateway shutting down")
	case <-ctx.Done():
	}
}
