// Command canproducer emulates sensors and writes their readings as CAN
// frames to the configured interfaces.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/farouk15160/canmqtt-bridge/internal/config"
	"github.com/farouk15160/canmqtt-bridge/internal/metrics"
	"github.com/farouk15160/canmqtt-bridge/internal/producer"
	"github.com/farouk15160/canmqtt-bridge/internal/transport"

	_ "github.com/farouk15160/canmqtt-bridge/internal/simcan"
	_ "github.com/farouk15160/canmqtt-bridge/internal/socketcan"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("canproducer failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags("canproducer", args, os.Stderr)
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
	if err := cfg.ValidateProducer(); err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := config.NewLogger(os.Stderr, level)
	logger.Info("configuration loaded", "path", flags.ConfigFile, "backend", cfg.Backend)

	table, err := cfg.BindingTable()
	if err != nil {
		return err
	}
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

	p, err := producer.New(producer.Options{
		Bindings: table,
		Backend:  backend,
		Transport: transport.Options{
			ReceiveTimeout: cfg.ReceiveTimeout(),
			FD:             cfg.FD,
		},
		Logger:  logger,
		Metrics: m,
	})
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
			p.RequestShutdown()
		case <-p.Done():
		}
	}()

	if err := p.Start(); err != nil {
		return err
	}
	return p.Wait()
}
