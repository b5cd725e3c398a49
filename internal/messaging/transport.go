package messaging

import (
	"context"

	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// Transport delivers outbound messages to a counterpart. The concrete channel
// integration (WhatsApp business API, a gateway sidecar) lives behind this
// boundary.
type Transport interface {
	Send(ctx context.Context, to string, messages []Message) error
}

// LogTransport writes outbound messages to the log instead of a channel.
// Used in development and in the worker's dry-run mode.
type LogTransport struct {
	logger *logging.Logger
}

// NewLogTransport creates a transport that only logs.
func NewLogTransport(logger *logging.Logger) *LogTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogTransport{logger: logger}
}

// Send logs each message and reports success.
func (t *LogTransport) Send(ctx context.Context, to string, messages []Message) error {
	for _, msg := range messages {
		t.logger.Info("outbound message",
			"to", to,
			"type", msg.Type,
			"text", msg.Text,
			"prompt", msg.Prompt,
			"document_url", msg.DocumentURL,
		)
	}
	return nil
}
