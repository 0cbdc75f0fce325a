package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/shq/internal/client"
	"git.home.luguber.info/inful/shq/internal/config"
	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/protocol"
	"git.home.luguber.info/inful/shq/internal/task"
)

// Global is shared by all commands.
type Global struct {
	Out io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"${config_path}" type:"path"`
	Socket  string           `help:"Daemon socket path (overrides the configuration)" type:"path"`
	Secret  string           `help:"Shared secret (overrides the configuration)" env:"SHQ_SECRET"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Add      AddCmd      `cmd:"" help:"Enqueue a shell command"`
	Status   StatusCmd   `cmd:"" help:"Show groups and tasks"`
	Edit     EditCmd     `cmd:"" help:"Edit a queued or stashed task"`
	Start    StartCmd    `cmd:"" help:"Resume groups or tasks, or force-start queued tasks"`
	Pause    PauseCmd    `cmd:"" help:"Pause groups or tasks"`
	Kill     KillCmd     `cmd:"" help:"Kill running tasks"`
	Remove   RemoveCmd   `cmd:"" help:"Remove tasks that are not running"`
	Stash    StashCmd    `cmd:"" help:"Hold queued tasks back from scheduling"`
	Enqueue  EnqueueCmd  `cmd:"" help:"Queue stashed tasks, optionally with a delay"`
	Restart  RestartCmd  `cmd:"" help:"Queue copies of finished tasks"`
	Clean    CleanCmd    `cmd:"" help:"Remove finished tasks"`
	Group    GroupCmd    `cmd:"" help:"Manage groups"`
	Parallel ParallelCmd `cmd:"" help:"Set how many tasks of a group run at once"`
	Log      LogCmd      `cmd:"" help:"Show the output of a task"`
	History  HistoryCmd  `cmd:"" help:"Show the recorded task history"`
	Shutdown ShutdownCmd `cmd:"" help:"Stop the daemon"`
	Daemon   DaemonCmd   `cmd:"" help:"Run the daemon in the foreground"`
}

// Vars are the interpolation variables the CLI definition refers to.
func Vars(versionLine string) kong.Vars {
	return kong.Vars{
		"version":     versionLine,
		"config_path": config.DefaultPath(),
	}
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelWarn
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// LoadConfig reads the configuration file named by --config.
func (c *CLI) LoadConfig() (*config.Config, error) {
	return config.Load(c.Config)
}

// Client connects to the daemon named by the flags or the configuration.
func (c *CLI) Client() (*client.Client, error) {
	socket, secret := c.Socket, c.Secret
	if socket == "" || secret == "" {
		cfg, err := c.LoadConfig()
		if err != nil {
			return nil, err
		}
		if socket == "" {
			socket = cfg.Daemon.SocketPath
		}
		if secret == "" {
			secret = cfg.Daemon.Secret
		}
	}
	return client.New(socket, client.WithSecret(secret)), nil
}

func (c *CLI) send(req protocol.Request) (protocol.Response, error) {
	cl, err := c.Client()
	if err != nil {
		return nil, err
	}
	return cl.Send(context.Background(), req)
}

// Selector is the task selection shared by the batch commands.
type Selector struct {
	IDs   []int  `arg:"" optional:"" name:"ids" help:"Task ids"`
	Group string `short:"g" help:"Select every task of a group"`
	All   bool   `short:"a" help:"Select every task"`
}

// Selection converts the flags into a protocol selection. Exactly one of
// ids, --group and --all must be given.
func (s Selector) Selection() (task.Selection, error) {
	given := 0
	if len(s.IDs) > 0 {
		given++
	}
	if s.Group != "" {
		given++
	}
	if s.All {
		given++
	}
	if given != 1 {
		return task.Selection{}, errors.ValidationError("give task ids, --group or --all").Build()
	}
	switch {
	case s.All:
		return task.All(), nil
	case s.Group != "":
		return task.InGroup(s.Group), nil
	default:
		return task.TaskIDs(s.IDs...), nil
	}
}

// printBatch writes one line per outcome. Rejections turn into an error so
// the exit code reflects them.
func printBatch(w io.Writer, resp protocol.Response, verb string) error {
	batch, ok := resp.(protocol.Batch)
	if !ok {
		return unexpected(resp)
	}
	if len(batch.Outcomes) == 0 {
		_, _ = fmt.Fprintln(w, "No tasks affected.")
		return nil
	}
	rejected := 0
	for _, o := range batch.Outcomes {
		switch {
		case !o.Accepted:
			rejected++
			_, _ = fmt.Fprintf(w, "Task %d: %s\n", o.TaskID, o.Reason)
		case o.NewTaskID != nil:
			_, _ = fmt.Fprintf(w, "Task %d %s as task %d\n", o.TaskID, verb, *o.NewTaskID)
		default:
			_, _ = fmt.Fprintf(w, "Task %d %s\n", o.TaskID, verb)
		}
	}
	if rejected > 0 {
		return errors.InvalidTransition(fmt.Sprintf("%d of %d tasks were rejected", rejected, len(batch.Outcomes))).Build()
	}
	return nil
}

func printSuccess(w io.Writer, resp protocol.Response) error {
	s, ok := resp.(protocol.Success)
	if !ok {
		return unexpected(resp)
	}
	_, _ = fmt.Fprintln(w, s.Text)
	return nil
}

func unexpected(resp protocol.Response) error {
	return errors.ProtocolError(fmt.Sprintf("unexpected %s response", resp.ResponseType())).Build()
}

// enqueueAt turns a delay flag into an absolute start time.
func enqueueAt(delay time.Duration) *time.Time {
	if delay <= 0 {
		return nil
	}
	at := time.Now().Add(delay).UTC()
	return &at
}
