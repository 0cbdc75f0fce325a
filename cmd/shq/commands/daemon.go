package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/shq/internal/config"
	"git.home.luguber.info/inful/shq/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct{}

func (d *DaemonCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	if root.Socket != "" {
		cfg.Daemon.SocketPath = root.Socket
	}
	if root.Secret != "" {
		cfg.Daemon.Secret = root.Secret
	}

	level := new(slog.LevelVar)
	if root.Verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	slog.SetDefault(daemon.NewLogger(os.Stderr, cfg.Logging, level))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dmn, err := daemon.New(cfg, root.Config, level)
	if err != nil {
		return err
	}
	return dmn.Run(ctx)
}
