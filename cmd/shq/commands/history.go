package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	JSON bool `short:"j" name:"json" help:"Print the history as JSON"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cl, err := root.Client()
	if err != nil {
		return err
	}
	history, err := cl.History(context.Background())
	if err != nil {
		return err
	}
	if h.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}

	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "Id\tGroup\tStatus\tStarts\tEdits\tRuntime\tAdded\tCommand")
	for _, t := range history {
		status := t.Status
		if t.Removed {
			status += " (removed)"
		}
		if t.Result != nil {
			status += ": " + t.Result.String()
		}
		runtime := ""
		if t.Runtime > 0 {
			runtime = t.Runtime.Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			t.TaskID, t.Group, status, t.Starts, t.Edits, runtime,
			t.AddedAt.Local().Format(time.DateTime), oneLine(t.Command))
	}
	return tw.Flush()
}
