package protocol

import (
	"git.home.luguber.info/inful/shq/internal/task"
)

// ResponseType names a response kind on the wire.
type ResponseType string

const (
	ResponseSuccess ResponseType = "success"
	ResponseFailure ResponseType = "failure"
	ResponseAdd     ResponseType = "add"
	ResponseEdit    ResponseType = "edit"
	ResponseBatch   ResponseType = "batch"
	ResponseStatus  ResponseType = "status"
	ResponseLog     ResponseType = "log"
)

// Response is the daemon's answer to exactly one Request. The set of
// implementations is closed.
type Response interface {
	ResponseType() ResponseType
	response()
}

// Success acknowledges a request without further payload.
type Success struct {
	Text string `json:"text"`
}

// Failure reports a rejected request. Code is the error category.
type Failure struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AddResult carries the id of a new task.
type AddResult struct {
	TaskID int `json:"task_id"`
}

// EditResult carries the editable fields of a freshly locked task.
type EditResult struct {
	TaskID   int     `json:"task_id"`
	Command  string  `json:"command"`
	Path     string  `json:"path"`
	Label    *string `json:"label"`
	Priority int     `json:"priority"`
}

// Batch carries one outcome per affected task.
type Batch struct {
	Outcomes []task.Outcome `json:"outcomes"`
}

// StatusResult is the full state snapshot.
type StatusResult struct {
	State *task.State `json:"state"`
}

// LogResult is the tail of a task's output.
type LogResult struct {
	TaskID    int    `json:"task_id"`
	Output    string `json:"output"`
	Truncated bool   `json:"truncated"`
}

func (Success) ResponseType() ResponseType      { return ResponseSuccess }
func (Failure) ResponseType() ResponseType      { return ResponseFailure }
func (AddResult) ResponseType() ResponseType    { return ResponseAdd }
func (EditResult) ResponseType() ResponseType   { return ResponseEdit }
func (Batch) ResponseType() ResponseType        { return ResponseBatch }
func (StatusResult) ResponseType() ResponseType { return ResponseStatus }
func (LogResult) ResponseType() ResponseType    { return ResponseLog }

func (Success) response()      {}
func (Failure) response()      {}
func (AddResult) response()    {}
func (EditResult) response()   {}
func (Batch) response()        {}
func (StatusResult) response() {}
func (LogResult) response()    {}

// Error makes a Failure usable as an error on the client side.
func (f Failure) Error() string {
	return f.Code + ": " + f.Message
}

var responseDecoders = map[ResponseType]func([]byte) (Response, error){
	ResponseSuccess: decodeResponse[Success],
	ResponseFailure: decodeResponse[Failure],
	ResponseAdd:     decodeResponse[AddResult],
	ResponseEdit:    decodeResponse[EditResult],
	ResponseBatch:   decodeResponse[Batch],
	ResponseStatus:  decodeResponse[StatusResult],
	ResponseLog:     decodeResponse[LogResult],
}
