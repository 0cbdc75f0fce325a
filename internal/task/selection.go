package task

import (
	"encoding/json"
	"fmt"
)

// SelectionKind discriminates a Selection.
type SelectionKind string

const (
	SelectAll     SelectionKind = "all"
	SelectTaskIDs SelectionKind = "task_ids"
	SelectGroup   SelectionKind = "group"
)

// Selection names the tasks a control message applies to.
type Selection struct {
	Kind    SelectionKind
	TaskIDs []int
	Group   string
}

func All() Selection                { return Selection{Kind: SelectAll} }
func TaskIDs(ids ...int) Selection  { return Selection{Kind: SelectTaskIDs, TaskIDs: ids} }
func InGroup(name string) Selection { return Selection{Kind: SelectGroup, Group: name} }

type selectionWire struct {
	All     bool   `json:"all,omitempty"`
	TaskIDs []int  `json:"task_ids,omitempty"`
	Group   string `json:"group,omitempty"`
}

// MarshalJSON encodes the selection as {"all":true}, {"task_ids":[..]} or {"group":".."}.
func (s Selection) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SelectAll:
		return json.Marshal(selectionWire{All: true})
	case SelectTaskIDs:
		ids := s.TaskIDs
		if ids == nil {
			ids = []int{}
		}
		return json.Marshal(struct {
			TaskIDs []int `json:"task_ids"`
		}{ids})
	case SelectGroup:
		return json.Marshal(selectionWire{Group: s.Group})
	default:
		return nil, fmt.Errorf("unknown selection kind %q", s.Kind)
	}
}

// UnmarshalJSON decodes exactly one of the three selection shapes.
func (s *Selection) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode selection: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("selection must have exactly one of all, task_ids, group")
	}
	var w selectionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode selection: %w", err)
	}
	switch {
	case raw["all"] != nil:
		if !w.All {
			return fmt.Errorf("selection all must be true")
		}
		*s = All()
	case raw["task_ids"] != nil:
		*s = TaskIDs(w.TaskIDs...)
	case raw["group"] != nil:
		if w.Group == "" {
			return fmt.Errorf("selection group must not be empty")
		}
		*s = InGroup(w.Group)
	default:
		return fmt.Errorf("selection must have exactly one of all, task_ids, group")
	}
	return nil
}

// Outcome is the per-task answer to a batch control message.
type Outcome struct {
	TaskID   int    `json:"task_id"`
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	// NewTaskID is set when a restart created a replacement task.
	NewTaskID *int `json:"new_task_id,omitempty"`
}
