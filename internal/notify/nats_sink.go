package notify

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/shq/internal/config"
)

// Sink is the transport the Notifier writes to.
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PutStatus(ctx context.Context, key string, data []byte) error
	DeleteStatus(ctx context.Context, key string) error
	Close() error
}

// NATSSink publishes to a JetStream stream covering <subject>.> and stores
// task status in a KV bucket.
type NATSSink struct {
	conn *nats.Conn
	js   jetstream.JetStream
	kv   jetstream.KeyValue
}

// NewNATSSink connects to NATS and ensures the stream and bucket exist.
func NewNATSSink(ctx context.Context, cfg config.NATSConfig) (*NATSSink, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("shq"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName(cfg.Subject),
		Description: "shq task lifecycle events",
		Subjects:    []string{cfg.Subject + ".>"},
		MaxAge:      7 * 24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	sink := &NATSSink{conn: conn, js: js}
	if err := sink.initKVBucket(ctx, cfg.KVBucket); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize KV bucket: %w", err)
	}

	slog.Info("NATS task event publisher initialized",
		"url", cfg.URL,
		"subject", cfg.Subject,
		"kv_bucket", cfg.KVBucket)
	return sink, nil
}

func (s *NATSSink) initKVBucket(ctx context.Context, bucket string) error {
	kv, err := s.js.KeyValue(ctx, bucket)
	if err == nil {
		s.kv = kv
		return nil
	}

	kv, err = s.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Latest shq task status",
		History:     1,
	})
	if err != nil {
		return err
	}
	s.kv = kv
	slog.Info("Created KV bucket for task status", "bucket", bucket)
	return nil
}

func (s *NATSSink) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := s.js.Publish(ctx, subject, data)
	return err
}

func (s *NATSSink) PutStatus(ctx context.Context, key string, data []byte) error {
	_, err := s.kv.Put(ctx, key, data)
	return err
}

func (s *NATSSink) DeleteStatus(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close drains the connection so buffered publishes are flushed.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// streamName derives a valid stream name from the subject prefix.
func streamName(subject string) string {
	name := strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(subject)
	return strings.ToUpper(name)
}
