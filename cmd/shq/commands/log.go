package commands

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/shq/internal/protocol"
)

// LogCmd implements the 'log' command.
type LogCmd struct {
	ID    int   `arg:"" help:"Task id"`
	Bytes int64 `short:"b" help:"Show at most this many trailing bytes (daemon default when zero)"`
}

func (l *LogCmd) Run(g *Global, root *CLI) error {
	resp, err := root.send(protocol.Log{TaskID: l.ID, Limit: l.Bytes})
	if err != nil {
		return err
	}
	out, ok := resp.(protocol.LogResult)
	if !ok {
		return unexpected(resp)
	}
	if out.Truncated {
		_, _ = fmt.Fprintln(g.Out, "(output truncated)")
	}
	_, _ = fmt.Fprint(g.Out, out.Output)
	if out.Output != "" && !strings.HasSuffix(out.Output, "\n") {
		_, _ = fmt.Fprintln(g.Out)
	}
	return nil
}
