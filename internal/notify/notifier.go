package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/task"
)

const (
	defaultQueueSize = 256
	publishTimeout   = 5 * time.Second
)

// Message is the JSON body published for every task event.
type Message struct {
	Type      string       `json:"type"`
	TaskID    int          `json:"task_id"`
	Group     string       `json:"group"`
	Status    string       `json:"status,omitempty"`
	Command   string       `json:"command,omitempty"`
	EnqueueAt *time.Time   `json:"enqueue_at,omitempty"`
	Result    *task.Result `json:"result,omitempty"`
	RuntimeMS int64        `json:"runtime_ms,omitempty"`
	Time      time.Time    `json:"time"`
}

func messageFrom(ev state.Event) Message {
	return Message{
		Type:      string(ev.Type),
		TaskID:    ev.TaskID,
		Group:     ev.Group,
		Status:    string(ev.Status),
		Command:   ev.Command,
		EnqueueAt: ev.EnqueueAt,
		Result:    ev.Result,
		RuntimeMS: ev.Runtime.Milliseconds(),
		Time:      ev.Time,
	}
}

// Notifier forwards store events to a Sink from a single goroutine, so
// subscribers see events in commit order. When the queue is full events are
// dropped rather than blocking the store.
type Notifier struct {
	sink    Sink
	subject string
	queue   chan Message
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewNotifier starts the publishing goroutine.
func NewNotifier(sink Sink, subject string) *Notifier {
	n := &Notifier{
		sink:    sink,
		subject: subject,
		queue:   make(chan Message, defaultQueueSize),
		done:    make(chan struct{}),
	}
	go n.loop()
	return n
}

// TaskEvent implements state.Observer.
func (n *Notifier) TaskEvent(ev state.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- messageFrom(ev):
	default:
		n.dropped++
		slog.Warn("Notification queue full, dropping event",
			slog.String("event", string(ev.Type)),
			logfields.TaskID(ev.TaskID),
			slog.Int("dropped", n.dropped))
	}
}

// Subject returns the subject a message is published on.
func (n *Notifier) Subject(m Message) string {
	return n.subject + "." + m.Type
}

func (n *Notifier) loop() {
	defer close(n.done)
	for m := range n.queue {
		n.deliver(m)
	}
}

func (n *Notifier) deliver(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("Failed to marshal notification", logfields.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := n.sink.Publish(ctx, n.Subject(m), data); err != nil {
		slog.Warn("Failed to publish task event", logfields.TaskID(m.TaskID), logfields.Error(err))
	}
	if m.TaskID < 0 {
		return
	}
	key := "task." + strconv.Itoa(m.TaskID)
	if m.Type == string(state.EventTaskRemoved) {
		err = n.sink.DeleteStatus(ctx, key)
	} else {
		err = n.sink.PutStatus(ctx, key, data)
	}
	if err != nil {
		slog.Warn("Failed to update task status bucket", logfields.TaskID(m.TaskID), logfields.Error(err))
	}
}

// Close stops accepting events, publishes what is queued and closes the sink.
func (n *Notifier) Close() error {
	var err error
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
		<-n.done
		err = n.sink.Close()
	})
	return err
}
