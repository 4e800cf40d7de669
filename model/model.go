// Package model defines the Provider interface agents call through to reach
// a language model, decoupling the engine from any one vendor SDK
// AnthropicProvider is the concrete implementation wired to
// anthropic-sdk-go, generalized from a direct *anthropic.Client
// usage in worker/api_builder.go.
package model

import (
	"context"

	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/runstate"
)

// ToolSpec describes one tool available to the model for a single call,
// independent of any particular tool registry implementation.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is a single turn's worth of model input.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []*message.Message
	Tools        []ToolSpec
	MaxTokens    int
	Temperature  *float32
}

// Response is what came back from the model for one turn.
type Response struct {
	Message    *message.Message
	StopReason runstate.StopReason
	Usage      message.Usage
}

// Provider is implemented by every model backend an agent can be
// configured to call.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// StreamProvider is implemented by providers that can also stream partial
// response events. engine.Engine calls only Complete and does not stream.
type StreamProvider interface {
	Provider
	CompleteStream(ctx context.Context, req Request, onEvent func(Event)) (*Response, error)
}

// Event is one incremental streaming update.
type Event struct {
	Kind  string // "text_delta", "tool_use_delta", "message_stop", ...
	Delta string
}
