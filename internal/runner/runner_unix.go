//go:build unix

package runner

import (
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"git.home.luguber.info/inful/shq/internal/state"
)

const (
	defaultShell = "/bin/sh"
	shellFlag    = "-c"
)

// configureProcess puts the child in its own process group so signals reach
// everything the shell started.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(c *child, sig unix.Signal) error {
	err := unix.Kill(-c.cmd.Process.Pid, sig)
	if stderrors.Is(err, unix.ESRCH) {
		return state.ErrProcessGone
	}
	if err != nil {
		return fmt.Errorf("send %s to task %d: %w", unix.SignalName(sig), c.id, err)
	}
	return nil
}

func terminate(c *child) error {
	if err := signalGroup(c, unix.SIGTERM); err != nil {
		return err
	}
	if c.suspended.Load() {
		// A stopped process only acts on SIGTERM once continued.
		return signalGroup(c, unix.SIGCONT)
	}
	return nil
}

func suspend(c *child) error { return signalGroup(c, unix.SIGSTOP) }
func resume(c *child) error  { return signalGroup(c, unix.SIGCONT) }

func exitSignal(ps *os.ProcessState) (string, bool) {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return "", false
	}
	return unix.SignalName(ws.Signal()), true
}
