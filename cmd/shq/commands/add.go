package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/protocol"
)

// AddCmd implements the 'add' command.
type AddCmd struct {
	Command  []string      `arg:"" passthrough:"" help:"Command to run; it is executed by the configured shell"`
	Label    string        `short:"l" help:"Label shown in the status output"`
	Priority int           `short:"o" help:"Higher priorities start first"`
	After    []int         `short:"a" name:"after" help:"Start only after these tasks succeeded"`
	Group    string        `short:"g" help:"Group to add the task to"`
	Stashed  bool          `short:"s" help:"Create the task stashed instead of queued"`
	Delay    time.Duration `short:"d" help:"Enqueue the stashed task after this delay, e.g. 10m"`
	Path     string        `short:"p" help:"Working directory (defaults to the current directory)" type:"path"`
	Print    bool          `name:"print-task-id" help:"Print only the new task id"`
}

func (a *AddCmd) Run(g *Global, root *CLI) error {
	args := a.Command
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	command := strings.TrimSpace(strings.Join(args, " "))
	if command == "" {
		return errors.ValidationError("command must not be empty").Build()
	}
	path := a.Path
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return errors.WrapError(err, errors.CategoryValidation, "cannot determine working directory").Build()
		}
		path = wd
	}

	req := protocol.Add{
		Command:      command,
		Path:         path,
		Priority:     a.Priority,
		Dependencies: a.After,
		Group:        a.Group,
		Stashed:      a.Stashed,
		EnqueueAt:    enqueueAt(a.Delay),
	}
	if a.Label != "" {
		label := a.Label
		req.Label = &label
	}

	resp, err := root.send(req)
	if err != nil {
		return err
	}
	added, ok := resp.(protocol.AddResult)
	if !ok {
		return unexpected(resp)
	}
	if a.Print {
		_, _ = fmt.Fprintln(g.Out, added.TaskID)
		return nil
	}
	_, _ = fmt.Fprintf(g.Out, "New task added (id %d).\n", added.TaskID)
	return nil
}
