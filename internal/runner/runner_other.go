//go:build !unix

package runner

import (
	"os"
	"os/exec"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/state"
)

const (
	defaultShell = "cmd"
	shellFlag    = "/C"
)

func configureProcess(*exec.Cmd) {}

func terminate(c *child) error {
	if err := c.cmd.Process.Kill(); err != nil {
		if err == os.ErrProcessDone {
			return state.ErrProcessGone
		}
		return err
	}
	return nil
}

func suspend(*child) error {
	return errors.ValidationError("suspending processes is not supported on this platform").Build()
}

func resume(*child) error {
	return errors.ValidationError("resuming processes is not supported on this platform").Build()
}

func exitSignal(*os.ProcessState) (string, bool) { return "", false }
