package commands

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"git.home.luguber.info/inful/shq/internal/client"
	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/protocol"
)

// EditCmd implements the 'edit' command. Without field flags the command is
// opened in $EDITOR.
type EditCmd struct {
	ID          int     `arg:"" help:"Task id"`
	Command     *string `help:"New command"`
	Path        *string `short:"p" help:"New working directory" type:"path"`
	Label       *string `short:"l" help:"New label"`
	DeleteLabel bool    `name:"delete-label" help:"Remove the label"`
	Priority    *int    `short:"o" help:"New priority"`
}

func (e *EditCmd) hasFieldFlags() bool {
	return e.Command != nil || e.Path != nil || e.Label != nil || e.DeleteLabel || e.Priority != nil
}

func (e *EditCmd) Run(g *Global, root *CLI) error {
	cl, err := root.Client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	resp, err := cl.Send(ctx, protocol.EditRequest{TaskID: e.ID})
	if err != nil {
		return err
	}
	current, ok := resp.(protocol.EditResult)
	if !ok {
		return unexpected(resp)
	}

	edit := protocol.Edit{
		TaskID:      e.ID,
		Command:     e.Command,
		Path:        e.Path,
		Label:       e.Label,
		DeleteLabel: e.DeleteLabel,
		Priority:    e.Priority,
	}
	if !e.hasFieldFlags() {
		command, err := editInEditor(current.Command)
		if err != nil {
			restore(ctx, cl, e.ID)
			return err
		}
		edit.Command = &command
	}

	resp, err = cl.Send(ctx, edit)
	if err != nil {
		restore(ctx, cl, e.ID)
		return err
	}
	return printSuccess(g.Out, resp)
}

// restore releases the edit lock after an aborted edit.
func restore(ctx context.Context, cl *client.Client, id int) {
	if _, err := cl.Send(ctx, protocol.EditRestore{TaskID: id}); err != nil {
		slog.Warn("Failed to release edit lock", logfields.TaskID(id), logfields.Error(err))
	}
}

// editInEditor writes text to a temporary file, runs $EDITOR (or $VISUAL,
// falling back to vi) on it and returns the result without its trailing
// newline.
func editInEditor(text string) (string, error) {
	f, err := os.CreateTemp("", "shq-edit-*.sh")
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryInternal, "failed to create temporary file").Build()
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()

	if _, err := f.WriteString(text + "\n"); err != nil {
		_ = f.Close()
		return "", errors.WrapError(err, errors.CategoryInternal, "failed to write temporary file").Build()
	}
	if err := f.Close(); err != nil {
		return "", errors.WrapError(err, errors.CategoryInternal, "failed to write temporary file").Build()
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}
	// The editor value may carry arguments, so let the shell split it.
	cmd := exec.Command("/bin/sh", "-c", editor+` "$1"`, "sh", path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", errors.WrapError(err, errors.CategoryValidation, "editor failed, edit aborted").
			WithContext("editor", editor).
			Build()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryInternal, "failed to read edited file").Build()
	}
	edited := strings.TrimRight(string(data), "\r\n")
	if strings.TrimSpace(edited) == "" {
		return "", errors.ValidationError("command is empty, edit aborted").Build()
	}
	return edited, nil
}
