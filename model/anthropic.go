package model

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	internalanthropic "github.com/youssefsiam38/pattern/internal/anthropic"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/runstate"
	"github.com/youssefsiam38/pattern/streaming"
)

// AnthropicProvider calls the Anthropic Messages API, generalizing the
// usual worker/api_builder.go request construction and response handling
// into the engine-agnostic Provider interface instead of wiring the SDK
// directly into the run worker.
type AnthropicProvider struct {
	client *anthropic.Client
}

// NewAnthropicProvider builds a provider. Extra option.RequestOption values
// (e.g. option.WithAPIKey) are forwarded to the SDK client constructor.
func NewAnthropicProvider(opts ...option.RequestOption) *AnthropicProvider {
	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{client: &client}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Client exposes the underlying SDK client so callers can wire it into
// subsystems that talk to Anthropic directly, such as compaction's optional
// API-based token counting.
func (p *AnthropicProvider) Client() *anthropic.Client { return p.client }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params := p.buildParams(req)

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if internalanthropic.IsRetryableError(err) {
			return nil, fmt.Errorf("model: anthropic call (retryable): %w", err)
		}
		return nil, fmt.Errorf("model: anthropic call: %w", err)
	}

	return p.toResponse(resp), nil
}

// CompleteStream calls the Messages API in streaming mode, feeding each SSE
// event through a streaming.Accumulator and surfacing text deltas via
// onEvent as they arrive — generalizing the streaming-worker pattern
// accumulate-then-process loop into the engine-agnostic Provider contract.
func (p *AnthropicProvider) CompleteStream(ctx context.Context, req Request, onEvent func(Event)) (*Response, error) {
	params := p.buildParams(req)

	stream := p.client.Messages.NewStreaming(ctx, params)
	acc := streaming.NewAccumulator()

	for stream.Next() {
		event := stream.Current()
		acc.ProcessAnthropicEvent(event)

		if onEvent == nil {
			continue
		}
		switch e := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := e.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onEvent(Event{Kind: "text_delta", Delta: delta.Text})
			case anthropic.InputJSONDelta:
				onEvent(Event{Kind: "tool_use_delta", Delta: delta.PartialJSON})
			}
		case anthropic.MessageStopEvent:
			onEvent(Event{Kind: "message_stop"})
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("model: anthropic stream: %w", err)
	}

	accumulated := acc.Message()
	msg := accumulated.ToPatternMessage()

	return &Response{
		Message:    msg,
		StopReason: stopReasonFromString(accumulated.StopReason),
		Usage:      *msg.Usage,
	}, nil
}

func stopReasonFromString(sr string) runstate.StopReason {
	return stopReasonFromAnthropic(anthropic.StopReason(sr))
}

func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	maxTokens := int64(4096)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  internalanthropic.ConvertToAnthropicMessages(req.Messages),
	}

	if req.SystemPrompt != "" {
		params.System = internalanthropic.BuildSystemPrompt(req.SystemPrompt)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		params.Tools = make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
			if props, ok := t.InputSchema["properties"].(map[string]any); ok {
				inputSchema.Properties = props
			}
			if required, ok := t.InputSchema["required"].([]string); ok {
				inputSchema.Required = required
			}
			params.Tools = append(params.Tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: inputSchema,
				},
			})
		}
	}

	return params
}

func (p *AnthropicProvider) toResponse(resp *anthropic.Message) *Response {
	msg := internalanthropic.ConvertFromAnthropicMessage(resp)
	return &Response{
		Message:    msg,
		StopReason: stopReasonFromAnthropic(resp.StopReason),
		Usage:      *msg.Usage,
	}
}

func stopReasonFromAnthropic(sr anthropic.StopReason) runstate.StopReason {
	switch sr {
	case anthropic.StopReasonEndTurn:
		return runstate.StopReasonEndTurn
	case anthropic.StopReasonToolUse:
		return runstate.StopReasonToolUse
	case anthropic.StopReasonMaxTokens:
		return runstate.StopReasonMaxTokens
	case anthropic.StopReasonStopSequence:
		return runstate.StopReasonStopSequence
	case anthropic.StopReasonPauseTurn:
		return runstate.StopReasonPauseTurn
	case anthropic.StopReasonRefusal:
		return runstate.StopReasonRefusal
	default:
		return runstate.StopReasonEndTurn
	}
}
