// Package notify publishes task lifecycle events to NATS JetStream and keeps
// the latest status of every task in a JetStream key-value bucket.
package notify
