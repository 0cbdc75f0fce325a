// Package runner starts, signals and reaps the OS processes backing running
// tasks. It implements state.ProcessControl.
package runner

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

// ExitFunc receives the result of a reaped process. It is called without any
// runner lock held.
type ExitFunc func(id int, result task.Result)

// Options configures a Runner.
type Options struct {
	// Shell runs the command as "<shell> -c <command>". Defaults to the
	// platform shell.
	Shell  string
	LogDir string
	OnExit ExitFunc
}

// Runner owns the child processes of running tasks.
type Runner struct {
	shell  string
	logDir string
	onExit ExitFunc

	mu       sync.Mutex
	children map[int]*child
	prepared map[int]*os.File
	wg       sync.WaitGroup
}

var (
	_ state.ProcessControl = (*Runner)(nil)
	_ state.SpawnPreparer  = (*Runner)(nil)
)

// child is one spawned process together with its output sink. close releases
// the sink and runs exactly once on every exit path.
type child struct {
	id            int
	group         string
	cmd           *exec.Cmd
	output        *os.File
	started       time.Time
	killRequested atomic.Bool
	suspended     atomic.Bool
	closeOnce     sync.Once
}

func (c *child) close() {
	c.closeOnce.Do(func() {
		if err := c.output.Close(); err != nil {
			slog.Warn("Failed to close task output", logfields.TaskID(c.id), logfields.Error(err))
		}
	})
}

// New creates a runner. The log directory is created on first spawn.
func New(opts Options) *Runner {
	shell := opts.Shell
	if shell == "" {
		shell = defaultShell
	}
	onExit := opts.OnExit
	if onExit == nil {
		onExit = func(int, task.Result) {}
	}
	return &Runner{
		shell:    shell,
		logDir:   opts.LogDir,
		onExit:   onExit,
		children: make(map[int]*child),
		prepared: make(map[int]*os.File),
	}
}

// SetOnExit replaces the exit callback. It must be called before the first
// Spawn.
func (r *Runner) SetOnExit(fn ExitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExit = fn
}

// LogPath returns the output file of a task.
func (r *Runner) LogPath(id int) string {
	return filepath.Join(r.logDir, strconv.Itoa(id)+".log")
}

// Prepare checks the working directory and opens a fresh output file for
// the task under a temporary name. Spawn moves it into place.
func (r *Runner) Prepare(t *task.Task) error {
	if err := checkWorkDir(t); err != nil {
		return err
	}
	if err := os.MkdirAll(r.logDir, 0o750); err != nil {
		return errors.WrapError(err, errors.CategorySpawn, "failed to create task log directory").
			WithContext("path", r.logDir).
			Build()
	}
	output, err := os.CreateTemp(r.logDir, strconv.Itoa(t.ID)+"-*.log.tmp")
	if err != nil {
		return errors.WrapError(err, errors.CategorySpawn, "failed to open task output").
			WithContext("path", r.logDir).
			Build()
	}
	if err := output.Chmod(0o640); err != nil {
		discardFile(output)
		return errors.WrapError(err, errors.CategorySpawn, "failed to set task output mode").Build()
	}

	r.mu.Lock()
	old := r.prepared[t.ID]
	r.prepared[t.ID] = output
	r.mu.Unlock()
	discardFile(old)
	return nil
}

// Discard drops an output file prepared for id that no spawn consumed.
func (r *Runner) Discard(id int) {
	r.mu.Lock()
	f := r.prepared[id]
	delete(r.prepared, id)
	r.mu.Unlock()
	discardFile(f)
}

func discardFile(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove unused task output", logfields.Path(f.Name()), logfields.Error(err))
	}
}

func checkWorkDir(t *task.Task) error {
	info, err := os.Stat(t.Path)
	if err != nil {
		return errors.WrapError(err, errors.CategorySpawn, fmt.Sprintf("working directory %s is not accessible", t.Path)).
			WithContext("task_id", t.ID).
			Build()
	}
	if !info.IsDir() {
		return errors.SpawnError(fmt.Sprintf("working directory %s is not a directory", t.Path)).
			WithContext("task_id", t.ID).
			Build()
	}
	return nil
}

// takePrepared moves a prepared output file to the task's log path.
func (r *Runner) takePrepared(id int) *os.File {
	r.mu.Lock()
	f := r.prepared[id]
	delete(r.prepared, id)
	r.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := os.Rename(f.Name(), r.LogPath(id)); err != nil {
		slog.Warn("Prepared task output could not be used", logfields.TaskID(id), logfields.Error(err))
		discardFile(f)
		return nil
	}
	return f
}

// Spawn starts the task's command in its working directory with stdout and
// stderr redirected to the task's log file. Output set up by Prepare is used
// when present; otherwise the checks and file creation happen here.
func (r *Runner) Spawn(t *task.Task) error {
	output := r.takePrepared(t.ID)
	if output == nil {
		var err error
		if output, err = r.openOutput(t); err != nil {
			return err
		}
	}

	cmd := exec.Command(r.shell, shellFlag, t.Command)
	cmd.Dir = t.Path
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.Env = append(os.Environ(),
		"SHQ_TASK_ID="+strconv.Itoa(t.ID),
		"SHQ_GROUP="+t.Group,
	)
	configureProcess(cmd)

	c := &child{id: t.ID, group: t.Group, cmd: cmd, output: output}
	if err := cmd.Start(); err != nil {
		c.close()
		return errors.WrapError(err, errors.CategorySpawn, "failed to start process").
			WithContext("task_id", t.ID).
			WithContext("command", t.Command).
			Build()
	}
	c.started = time.Now()

	r.mu.Lock()
	r.children[t.ID] = c
	r.wg.Add(1)
	r.mu.Unlock()

	slog.Debug("Process spawned",
		logfields.TaskID(t.ID),
		logfields.PID(cmd.Process.Pid),
		logfields.Path(t.Path))
	go r.reap(c)
	return nil
}

func (r *Runner) openOutput(t *task.Task) (*os.File, error) {
	if err := checkWorkDir(t); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.logDir, 0o750); err != nil {
		return nil, errors.WrapError(err, errors.CategorySpawn, "failed to create task log directory").
			WithContext("path", r.logDir).
			Build()
	}
	output, err := os.OpenFile(r.LogPath(t.ID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategorySpawn, "failed to open task output").
			WithContext("path", r.LogPath(t.ID)).
			Build()
	}
	return output, nil
}

func (r *Runner) reap(c *child) {
	defer r.wg.Done()
	err := c.cmd.Wait()
	c.close()

	result := classify(c, err)
	r.mu.Lock()
	delete(r.children, c.id)
	onExit := r.onExit
	r.mu.Unlock()

	slog.Debug("Process reaped",
		logfields.TaskID(c.id),
		logfields.Result(string(result.Kind)),
		logfields.Duration(time.Since(c.started)))
	onExit(c.id, result)
}

func classify(c *child, err error) task.Result {
	if c.killRequested.Load() {
		return task.Killed()
	}
	if err == nil {
		return task.Succeeded()
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		if sig, ok := exitSignal(exitErr.ProcessState); ok {
			return task.Signaled(sig)
		}
		return task.Failed(exitErr.ExitCode())
	}
	return task.Errored(err.Error())
}

func (r *Runner) lookup(id int) (*child, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.children[id]
	if !ok {
		return nil, state.ErrProcessGone
	}
	return c, nil
}

// Kill terminates the task's process group. The task is reported as killed
// once the process has been reaped.
func (r *Runner) Kill(id int) error {
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	c.killRequested.Store(true)
	return terminate(c)
}

// Suspend stops the task's process group.
func (r *Runner) Suspend(id int) error {
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := suspend(c); err != nil {
		return err
	}
	c.suspended.Store(true)
	return nil
}

// Resume continues a suspended process group.
func (r *Runner) Resume(id int) error {
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := resume(c); err != nil {
		return err
	}
	c.suspended.Store(false)
	return nil
}

// Running returns the ids of tasks with a live process.
func (r *Runner) Running() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.children))
	for id := range r.children {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown kills every child and waits for the reapers, bounded by timeout.
func (r *Runner) Shutdown(timeout time.Duration) error {
	for _, id := range r.Running() {
		if err := r.Kill(id); err != nil && !stderrors.Is(err, state.ErrProcessGone) {
			slog.Warn("Failed to kill task during shutdown", logfields.TaskID(id), logfields.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.DaemonError(fmt.Sprintf("%d task processes did not exit within %s", len(r.Running()), timeout)).Build()
	}
}

// TaskEvent removes the log file of removed tasks.
func (r *Runner) TaskEvent(e state.Event) {
	if e.Type != state.EventTaskRemoved {
		return
	}
	if err := os.Remove(r.LogPath(e.TaskID)); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove task log", logfields.TaskID(e.TaskID), logfields.Error(err))
	}
}
