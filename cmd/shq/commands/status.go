package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/shq/internal/protocol"
	"git.home.luguber.info/inful/shq/internal/task"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	JSON  bool   `short:"j" name:"json" help:"Print the raw state as JSON"`
	Group string `short:"g" help:"Only show this group"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	resp, err := root.send(protocol.Status{})
	if err != nil {
		return err
	}
	status, ok := resp.(protocol.StatusResult)
	if !ok {
		return unexpected(resp)
	}
	if s.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(status.State)
	}
	return printState(g.Out, status.State, s.Group)
}

func printState(w io.Writer, st *task.State, onlyGroup string) error {
	groups := make([]string, 0, len(st.Groups))
	for name := range st.Groups {
		if onlyGroup == "" || name == onlyGroup {
			groups = append(groups, name)
		}
	}
	slices.Sort(groups)

	for i, name := range groups {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		grp := st.Groups[name]
		_, _ = fmt.Fprintf(w, "Group %q (%d parallel): %s\n", name, grp.ParallelLimit, grp.Status)

		ids := st.TaskIDsInGroup(name)
		if len(ids) == 0 {
			_, _ = fmt.Fprintln(w, "  no tasks")
			continue
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "Id\tStatus\tPriority\tLabel\tCommand\tPath\tStart\tEnd")
		for _, id := range ids {
			t := st.Tasks[id]
			start, end := times(t.Status)
			_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, describeStatus(t), t.Priority, deref(t.Label), oneLine(t.Command), t.Path, start, end)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func describeStatus(t *task.Task) string {
	switch st := t.Status.(type) {
	case task.Done:
		return st.Result.String()
	case task.Stashed:
		if st.EnqueueAt != nil {
			return "Stashed until " + st.EnqueueAt.Local().Format(time.DateTime)
		}
	case task.Paused:
		if st.Suspended() {
			return "Paused (suspended)"
		}
	case task.Queued:
		if len(t.Dependencies) > 0 {
			deps := make([]string, len(t.Dependencies))
			for i, d := range t.Dependencies {
				deps[i] = strconv.Itoa(d)
			}
			return "Queued after " + strings.Join(deps, ",")
		}
	}
	return string(t.Status.Kind())
}

func times(st task.Status) (string, string) {
	switch v := st.(type) {
	case task.Running:
		return clock(&v.Start), ""
	case task.Paused:
		return clock(v.Start), ""
	case task.Done:
		return clock(v.Start), clock(&v.End)
	}
	return "", ""
}

func clock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format(time.TimeOnly)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func oneLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
