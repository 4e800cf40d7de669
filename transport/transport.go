// Package transport declares the outbound-delivery contract the
// send_message built-in dispatches through for target=user and
// target=data-sink. No concrete transport (chat bot, MCP, webhook) is
// implemented here — wiring a real transport is
// out of scope — only the interface and a logging stub for tests/dev.
package transport

import (
	"context"
	"fmt"

	"github.com/youssefsiam38/pattern/patternlog"
)

// Endpoint delivers content to an external target and reports the
// delivery's external identifier, for recording alongside the ToolCall row
// that triggered it, for external-effect-id bookkeeping.
type Endpoint interface {
	Deliver(ctx context.Context, target, content string) (externalID string, err error)
}

// LoggingEndpoint is a test/dev Endpoint that logs the delivery instead of
// sending it anywhere, returning a deterministic synthetic external id.
type LoggingEndpoint struct {
	Logger patternlog.Logger
	seq    int
}

// NewLoggingEndpoint creates a LoggingEndpoint using logger, or
// patternlog.Default if logger is nil.
func NewLoggingEndpoint(logger patternlog.Logger) *LoggingEndpoint {
	if logger == nil {
		logger = patternlog.Default
	}
	return &LoggingEndpoint{Logger: logger}
}

// Deliver logs target/content and returns a synthetic external id.
func (e *LoggingEndpoint) Deliver(ctx context.Context, target, content string) (string, error) {
	e.seq++
	externalID := fmt.Sprintf("log-%d", e.seq)
	e.Logger.Info("deliver", "target", target, "external_id", externalID, "content", content)
	return externalID, nil
}
