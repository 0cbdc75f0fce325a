package runner

import (
	"fmt"
	"io"
	"os"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
)

// DefaultLogLimit bounds the output returned for one log request.
const DefaultLogLimit = 64 * 1024

// ReadLog returns the last limit bytes of a task's output and whether
// earlier output was cut off. A task that never ran has no log.
func (r *Runner) ReadLog(id int, limit int64) (string, bool, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	f, err := os.Open(r.LogPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, errors.NotFound(fmt.Sprintf("task %d has no output", id)).
				WithContext("task_id", id).
				Build()
		}
		return "", false, errors.WrapError(err, errors.CategoryDaemon, "failed to open task output").Build()
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", false, errors.WrapError(err, errors.CategoryDaemon, "failed to stat task output").Build()
	}
	truncated := info.Size() > limit
	if truncated {
		if _, err := f.Seek(info.Size()-limit, io.SeekStart); err != nil {
			return "", false, errors.WrapError(err, errors.CategoryDaemon, "failed to seek task output").Build()
		}
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", false, errors.WrapError(err, errors.CategoryDaemon, "failed to read task output").Build()
	}
	return string(data), truncated, nil
}
