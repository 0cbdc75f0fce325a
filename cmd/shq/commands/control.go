package commands

import (
	"time"

	"git.home.luguber.info/inful/shq/internal/protocol"
)

// StartCmd implements the 'start' command.
type StartCmd struct {
	Selector `embed:""`
	Force bool `short:"f" help:"Start queued tasks now, ignoring group limits"`
}

func (s *StartCmd) Run(g *Global, root *CLI) error {
	sel, err := s.Selection()
	if err != nil {
		return err
	}
	resp, err := root.send(protocol.Start{Selection: sel, Force: s.Force})
	if err != nil {
		return err
	}
	return printBatch(g.Out, resp, "started")
}

// PauseCmd implements the 'pause' command.
type PauseCmd struct {
	Selector `embed:""`
	Wait bool `short:"w" help:"Let running tasks of paused groups finish"`
}

func (p *PauseCmd) Run(g *Global, root *CLI) error {
	sel, err := p.Selection()
	if err != nil {
		return err
	}
	resp, err := root.send(protocol.Pause{Selection: sel, Wait: p.Wait})
	if err != nil {
		return err
	}
	return printBatch(g.Out, resp, "paused")
}

// KillCmd implements the 'kill' command.
type KillCmd struct {
	Selector `embed:""`
}

func (k *KillCmd) Run(g *Global, root *CLI) error {
	sel, err := k.Selection()
	if err != nil {
		return err
	}
	resp, err := root.send(protocol.Kill{Selection: sel})
	if err != nil {
		return err
	}
	return printBatch(g.Out, resp, "killed")
}

// RemoveCmd implements the 'remove' command.
type RemoveCmd struct {
	Selector `embed:""`
}

func (r *RemoveCmd) Run(g *Global, root *CLI) error {
	sel, err := r.Selection()
	if err != nil {
		return err
	}
	resp, err := root.send(protocol.Remove{Selection: sel})
	if err != nil {
		return err
	}
	return printBatch(g.Out, resp, "removed")
}

// StashCmd implements the 'stash' command.
type StashCmd struct {
	Selector `embed:""`
	Delay time.Duration `short:"d" help:"Enqueue the tasks again after this delay"`
}

func (s *StashCmd) Run(g *Global, root *CLI) error {
	sel, err := s.Selection()
	if err != nil {
		return err
	}
	resp, err := root.send(protocol.Stash{Selection: sel, EnqueueAt: enqueueAt(s.Delay)})
	if err != nil {
		return err
	}
	return printBatch(g.Out, resp, "stashed")
}

// EnqueueCmd implements the 'enqueue' command.
type EnqueueCmd struct {
	Selector `embed:""`
	Delay time.Duration `short:"d" help:"Enqueue after this delay instead of now"`
}

func (e *EnqueueCmd) Run(g *Global, root *CLI) error {
	sel, err := e.Selection()
	if err != nil {
		return err
	}
	resp, err := root.send(protocol.Enqueue{Selection: sel, EnqueueAt: enqueueAt(e.Delay)})
	if err != nil {
		return err
	}
	return printBatch(g.Out, resp, "enqueued")
}

// RestartCmd implements the 'restart' command.
type RestartCmd struct {
	Selector `embed:""`
	Stashed bool `short:"s" help:"Create the copies stashed"`
}

func (r *RestartCmd) Run(g *Global, root *CLI) error {
	sel, err := r.Selection()
	if err != nil {
		return err
	}
	resp, err := root.send(protocol.Restart{Selection: sel, Stashed: r.Stashed})
	if err != nil {
		return err
	}
	return printBatch(g.Out, resp, "restarted")
}

// CleanCmd implements the 'clean' command.
type CleanCmd struct {
	SuccessfulOnly bool   `short:"s" name:"successful-only" help:"Only remove tasks that succeeded"`
	Group          string `short:"g" help:"Only clean this group"`
}

func (c *CleanCmd) Run(g *Global, root *CLI) error {
	resp, err := root.send(protocol.Clean{SuccessfulOnly: c.SuccessfulOnly, Group: c.Group})
	if err != nil {
		return err
	}
	return printBatch(g.Out, resp, "removed")
}

// ShutdownCmd implements the 'shutdown' command.
type ShutdownCmd struct{}

func (s *ShutdownCmd) Run(g *Global, root *CLI) error {
	resp, err := root.send(protocol.Shutdown{})
	if err != nil {
		return err
	}
	return printSuccess(g.Out, resp)
}
