package commands

import (
	"git.home.luguber.info/inful/shq/internal/protocol"
)

// GroupCmd groups the group management commands.
type GroupCmd struct {
	Add    GroupAddCmd    `cmd:"" help:"Add a group"`
	Remove GroupRemoveCmd `cmd:"" help:"Remove an empty group"`
}

// GroupAddCmd implements 'group add'.
type GroupAddCmd struct {
	Name     string `arg:"" help:"Group name"`
	Parallel int    `short:"p" default:"1" help:"Parallel limit"`
}

func (a *GroupAddCmd) Run(g *Global, root *CLI) error {
	resp, err := root.send(protocol.GroupAdd{Name: a.Name, Parallel: a.Parallel})
	if err != nil {
		return err
	}
	return printSuccess(g.Out, resp)
}

// GroupRemoveCmd implements 'group remove'.
type GroupRemoveCmd struct {
	Name string `arg:"" help:"Group name"`
}

func (r *GroupRemoveCmd) Run(g *Global, root *CLI) error {
	resp, err := root.send(protocol.GroupRemove{Name: r.Name})
	if err != nil {
		return err
	}
	return printSuccess(g.Out, resp)
}

// ParallelCmd implements the 'parallel' command.
type ParallelCmd struct {
	Parallel int    `arg:"" help:"Number of tasks allowed to run at once"`
	Group    string `short:"g" help:"Group to change (default group when empty)"`
}

func (p *ParallelCmd) Run(g *Global, root *CLI) error {
	resp, err := root.send(protocol.Parallel{Group: p.Group, Parallel: p.Parallel})
	if err != nil {
		return err
	}
	return printSuccess(g.Out, resp)
}
