// Command can2mqtt decodes sensor readings from CAN interfaces and publishes
// them as JSON on MQTT (or NATS) topics.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farouk15160/canmqtt-bridge/internal/bridge"
	"github.com/farouk15160/canmqtt-bridge/internal/config"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/mqtt"
	"github.com/farouk15160/canmqtt-bridge/internal/natsbus"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"

	_ "github.com/farouk15160/canmqtt-bridge/internal/simcan"
	_ "github.com/farouk15160/canmqtt-bridge/internal/socketcan"
)

const connectTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("can2mqtt failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags("can2mqtt", args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	flags.Apply(cfg)
	if err := cfg.ValidateBridge(); err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := config.NewLogger(os.Stderr, level)
	logger.Info("configuration loaded", "path", flags.ConfigFile, "backend", cfg.Backend)

	backend, err := transport.Lookup(cfg.Backend)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	b, err := bridge.New(bridge.Options{
		Interfaces: cfg.CANInterfaces,
		Backend:    backend,
		Transport: transport.Options{
			ReceiveTimeout: cfg.ReceiveTimeout(),
			FD:             cfg.FD,
		},
		Topics:  cfg.Bridge.MQTTTopics,
		QoS:     cfg.Bridge.QoS,
		Logger:  logger,
		Metrics: m,
	}, newPublisher(cfg, logger))
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("signal received, shutting down", "signal", sig.String())
			b.RequestShutdown()
			cancel()
		case <-b.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, connectTimeout)
	defer startCancel()
	if err := startError(b.Start(startCtx), b.Done()); err != nil {
		return err
	}
	return b.Wait()
}

// startError drops a cancellation caused by a shutdown requested while the
// bridge was still starting.
func startError(err error, shutdown <-chan struct{}) error {
	if err == nil || !errors.Is(err, context.Canceled) {
		return err
	}
	select {
	case <-shutdown:
		return nil
	default:
		return err
	}
}

func newPublisher(cfg *config.Config, logger *slog.Logger) bridge.Publisher {
	bc := cfg.Bridge
	if bc.Bus == config.BusNATS {
		return natsbus.NewClient(natsbus.Options{
			URL:      bc.NATSURL,
			Name:     bc.ClientID,
			Username: bc.Username,
			Password: bc.Password,
			Logger:   logger,
		})
	}
	return mqtt.NewClient(mqtt.Options{
		Broker:      bc.MQTTBroker,
		Port:        bc.MQTTPort,
		Username:    bc.Username,
		Password:    bc.Password,
		ClientID:    bc.ClientID,
		StatusTopic: bc.StatusTopic,
		Interfaces:  cfg.CANInterfaces,
		Logger:      logger,
	})
}
