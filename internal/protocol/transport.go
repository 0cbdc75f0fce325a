package protocol

// The daemon serves HTTP over its unix socket. Every request envelope is
// POSTed to MessagePath and answered with exactly one response envelope.
const (
	// SecretHeader carries the shared secret when one is configured.
	SecretHeader = "X-Shq-Secret"
	MessagePath  = "/v1/message"
	HistoryPath  = "/v1/history"
	HealthPath   = "/healthz"
)
