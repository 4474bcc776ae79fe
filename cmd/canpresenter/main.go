// Command canpresenter subscribes to the bridge topics and logs every
// message, optionally to a file as well as stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/farouk15160/canmqtt-bridge/internal/config"
	"github.com/farouk15160/canmqtt-bridge/internal/mqtt"
	"github.com/farouk15160/canmqtt-bridge/internal/natsbus"
	"github.com/farouk15160/canmqtt-bridge/internal/presenter"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("canpresenter failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags("canpresenter", args, os.Stderr)
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
	if err := cfg.ValidatePresenter(); err != nil {
		return err
	}
	level, _ := cfg.Level()

	var out io.Writer = os.Stderr
	if cfg.Presenter.LogFile != "" {
		f, err := os.OpenFile(cfg.Presenter.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stderr, f)
	}
	logger := config.NewLogger(out, level)
	logger.Info("configuration loaded", "path", flags.ConfigFile)

	p, err := presenter.New(newSubscriber(cfg, logger), cfg.Presenter.Topics, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return p.Run(ctx)
}

func newSubscriber(cfg *config.Config, logger *slog.Logger) presenter.Subscriber {
	pc := cfg.Presenter
	if pc.Bus == config.BusNATS {
		return natsbus.NewClient(natsbus.Options{URL: pc.NATSURL, Name: pc.ClientID, Logger: logger})
	}
	return mqtt.NewClient(mqtt.Options{
		Broker:   pc.Broker,
		Port:     pc.Port,
		ClientID: pc.ClientID,
		Logger:   logger,
	})
}
