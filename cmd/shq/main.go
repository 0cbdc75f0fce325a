package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/shq/cmd/shq/commands"
	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/version"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("shq"),
		kong.Description("Queue shell commands and run them in the background."),
		kong.UsageOnError(),
		commands.Vars(version.String()),
	)

	if err := ctx.Run(&commands.Global{Out: os.Stdout}, &cli); err != nil {
		errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
