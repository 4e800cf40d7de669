package hooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/youssefsiam38/pattern/compaction"
	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/message"
	"github.com/youssefsiam38/pattern/model"
	"github.com/youssefsiam38/pattern/runstate"
)

// LoggingHooks provides built-in logging hooks for observability.
type LoggingHooks struct {
	logger *log.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger.
func NewLoggingHooks(logger *log.Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger}
}

// DefaultLoggingHooks creates logging hooks with the default logger.
func DefaultLoggingHooks() *LoggingHooks {
	return &LoggingHooks{logger: log.Default()}
}

// BeforeMessage logs before sending messages to the model provider.
func (h *LoggingHooks) BeforeMessage(ctx context.Context, agentID id.AgentID, messages []*message.Message) error {
	h.logger.Printf("[pattern] agent=%s sending %d messages to model provider", agentID, len(messages))
	return nil
}

// AfterMessage logs after receiving a model response.
func (h *LoggingHooks) AfterMessage(ctx context.Context, agentID id.AgentID, response *model.Response) error {
	h.logger.Printf("[pattern] agent=%s received response: stop_reason=%s", agentID, response.StopReason)
	return nil
}

// ToolCall logs tool execution.
func (h *LoggingHooks) ToolCall(ctx context.Context, agentID id.AgentID, toolName string, input json.RawMessage, output string, err error) error {
	if err != nil {
		h.logger.Printf("[pattern] agent=%s tool %q failed: %v", agentID, toolName, err)
	} else {
		outputPreview := output
		if len(outputPreview) > 100 {
			outputPreview = outputPreview[:100] + "..."
		}
		h.logger.Printf("[pattern] agent=%s tool %q succeeded: %s", agentID, toolName, outputPreview)
	}
	return nil
}

// BeforeCompaction logs before a compaction pass.
func (h *LoggingHooks) BeforeCompaction(ctx context.Context, agentID id.AgentID) error {
	h.logger.Printf("[pattern] agent=%s starting context compaction", agentID)
	return nil
}

// AfterCompaction logs after a compaction pass.
func (h *LoggingHooks) AfterCompaction(ctx context.Context, result *compaction.Result) error {
	reduction := float64(0)
	if result.OriginalTokens > 0 {
		reduction = float64(result.OriginalTokens-result.CompactedTokens) / float64(result.OriginalTokens) * 100
	}

	h.logger.Printf("[pattern] agent=%s compaction complete: %d -> %d tokens (%.1f%% reduction, %d messages removed, strategy=%s)",
		result.AgentID, result.OriginalTokens, result.CompactedTokens, reduction, result.MessagesRemoved, result.Strategy)
	return nil
}

// BeforeRecovery logs before an Error-state recovery attempt.
func (h *LoggingHooks) BeforeRecovery(ctx context.Context, agentID id.AgentID, strategy runstate.RecoveryStrategy) error {
	h.logger.Printf("[pattern] agent=%s attempting recovery with strategy=%s", agentID, strategy)
	return nil
}

// AfterRecovery logs the outcome of a recovery attempt.
func (h *LoggingHooks) AfterRecovery(ctx context.Context, agentID id.AgentID, recovered bool, err error) {
	if err != nil {
		h.logger.Printf("[pattern] agent=%s recovery failed: %v", agentID, err)
		return
	}
	h.logger.Printf("[pattern] agent=%s recovery result: recovered=%v", agentID, recovered)
}

// VerboseLoggingHooks provides detailed logging for debugging.
type VerboseLoggingHooks struct {
	logger *log.Logger
}

// NewVerboseLoggingHooks creates verbose logging hooks.
func NewVerboseLoggingHooks(logger *log.Logger) *VerboseLoggingHooks {
	return &VerboseLoggingHooks{logger: logger}
}

// BeforeMessage logs detailed message information.
func (h *VerboseLoggingHooks) BeforeMessage(ctx context.Context, agentID id.AgentID, messages []*message.Message) error {
	h.logger.Printf("[pattern][verbose] agent=%s === sending %d messages ===", agentID, len(messages))
	for i, msg := range messages {
		h.logger.Printf("[pattern][verbose] message %d: role=%s", i, msg.Role)
	}
	return nil
}

// AfterMessage logs detailed response information.
func (h *VerboseLoggingHooks) AfterMessage(ctx context.Context, agentID id.AgentID, response *model.Response) error {
	h.logger.Printf("[pattern][verbose] agent=%s response: stop_reason=%s", agentID, response.StopReason)

	if response.Usage != (message.Usage{}) {
		h.logger.Printf("[pattern][verbose] usage: %d input + %d output = %d total tokens",
			response.Usage.InputTokens, response.Usage.OutputTokens,
			response.Usage.InputTokens+response.Usage.OutputTokens)
	}
	return nil
}

// ToolCall logs detailed tool execution information.
func (h *VerboseLoggingHooks) ToolCall(ctx context.Context, agentID id.AgentID, toolName string, input json.RawMessage, output string, err error) error {
	start := time.Now()

	h.logger.Printf("[pattern][verbose] agent=%s === tool call: %s ===", agentID, toolName)
	h.logger.Printf("[pattern][verbose] input: %s", string(input))

	if err != nil {
		h.logger.Printf("[pattern][verbose] error: %v", err)
	} else {
		h.logger.Printf("[pattern][verbose] output: %s", output)
	}

	h.logger.Printf("[pattern][verbose] duration: %v", time.Since(start))
	return nil
}

// BeforeCompaction logs detailed compaction information.
func (h *VerboseLoggingHooks) BeforeCompaction(ctx context.Context, agentID id.AgentID) error {
	h.logger.Printf("[pattern][verbose] === starting compaction ===")
	h.logger.Printf("[pattern][verbose] agent: %s", agentID)
	return nil
}

// AfterCompaction logs detailed compaction results.
func (h *VerboseLoggingHooks) AfterCompaction(ctx context.Context, result *compaction.Result) error {
	h.logger.Printf("[pattern][verbose] === compaction complete ===")
	h.logger.Printf("[pattern][verbose] strategy: %s", result.Strategy)
	h.logger.Printf("[pattern][verbose] original tokens: %d", result.OriginalTokens)
	h.logger.Printf("[pattern][verbose] compacted tokens: %d", result.CompactedTokens)
	h.logger.Printf("[pattern][verbose] messages removed: %d", result.MessagesRemoved)

	if result.OriginalTokens > 0 {
		h.logger.Printf("[pattern][verbose] reduction: %.1f%%",
			float64(result.OriginalTokens-result.CompactedTokens)/float64(result.OriginalTokens)*100)
	}

	return nil
}

// MetricsHooks collects metrics for monitoring.
type MetricsHooks struct {
	OnMetric func(name string, value float64, tags map[string]string)
}

// NewMetricsHooks creates metrics collection hooks.
func NewMetricsHooks(onMetric func(string, float64, map[string]string)) *MetricsHooks {
	return &MetricsHooks{OnMetric: onMetric}
}

// AfterMessage records response metrics.
func (h *MetricsHooks) AfterMessage(ctx context.Context, agentID id.AgentID, response *model.Response) error {
	if response.Usage != (message.Usage{}) {
		h.OnMetric("agent.tokens.input", float64(response.Usage.InputTokens), nil)
		h.OnMetric("agent.tokens.output", float64(response.Usage.OutputTokens), nil)
		h.OnMetric("agent.tokens.total", float64(response.Usage.InputTokens+response.Usage.OutputTokens), nil)
	}
	return nil
}

// ToolCall records tool execution metrics.
func (h *MetricsHooks) ToolCall(ctx context.Context, agentID id.AgentID, toolName string, input json.RawMessage, output string, err error) error {
	tags := map[string]string{"tool": toolName}

	if err != nil {
		h.OnMetric("agent.tool.error", 1, tags)
	} else {
		h.OnMetric("agent.tool.success", 1, tags)
	}

	return nil
}

// AfterCompaction records compaction metrics.
func (h *MetricsHooks) AfterCompaction(ctx context.Context, result *compaction.Result) error {
	tags := map[string]string{"strategy": string(result.Strategy)}

	h.OnMetric("agent.compaction.original_tokens", float64(result.OriginalTokens), tags)
	h.OnMetric("agent.compaction.compacted_tokens", float64(result.CompactedTokens), tags)

	if result.OriginalTokens > 0 {
		h.OnMetric("agent.compaction.reduction_pct",
			float64(result.OriginalTokens-result.CompactedTokens)/float64(result.OriginalTokens)*100, tags)
	}

	return nil
}
