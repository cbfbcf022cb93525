package engine

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/debug"
	"github.com/rhuss/toolbridge/pkg/executor"
	"github.com/rhuss/toolbridge/pkg/observability"
	"github.com/rhuss/toolbridge/pkg/provider"
)

// ToolExecutor runs a single tool call. *executor.Executor implements it.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, req executor.Request) (*api.ToolResult, error)
}

var _ ToolExecutor = (*executor.Executor)(nil)

// Options tune one GenerateWithTools conversation.
type Options struct {
	// MaxTurns overrides the coordinator's default turn limit.
	MaxTurns int

	// DocumentPath scopes execution accounting in the executor.
	DocumentPath string

	// Editor receives a Markdown callout for every executed tool call.
	Editor io.Writer

	OnToolCall    func(call api.ToolCall, server api.ToolServerInfo)
	OnToolResult  func(call api.ToolCall, result *api.ToolResult)
	OnToolSkipped func(call api.ToolCall)
}

// Coordinator runs the tool calling loop. It holds no per-conversation
// state and may be shared.
type Coordinator struct {
	cfg Config
	now func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg, now: time.Now}
}

// Turn outcomes recorded in toolbridge_coordinator_turns_total.
const (
	outcomeText      = "text"
	outcomeToolCalls = "tool_calls"
	outcomeMaxTurns  = "max_turns"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// GenerateWithTools streams the model's text for messages, running tool
// calls between turns. The sequence ends after a turn without tool calls,
// or silently after the turn limit if the model keeps requesting tools.
// Context cancellation is checked before every turn and every tool call
// and ends the sequence with ctx.Err(). A vendor stream error ends the
// sequence with that error.
//
// messages is not modified. The adapter's parser is reset each turn, so an
// adapter must not serve two conversations at once.
func (c *Coordinator) GenerateWithTools(ctx context.Context, messages []api.Message, adapter provider.Adapter, exec ToolExecutor, opts Options) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		maxTurns := c.cfg.maxTurns()
		if opts.MaxTurns > 0 {
			maxTurns = opts.MaxTurns
		}
		name := adapter.Name()
		conversation := slices.Clone(messages)
		parser := adapter.Parser()

		for turn := 0; turn < maxTurns; turn++ {
			if err := ctx.Err(); err != nil {
				observability.CoordinatorTurnsTotal.WithLabelValues(name, outcomeCancelled).Inc()
				yield("", err)
				return
			}

			parser.Reset()
			text, stop, err := c.streamTurn(ctx, adapter, parser, conversation, yield)
			if stop {
				return
			}
			if err != nil {
				outcome := outcomeError
				if ctx.Err() != nil {
					outcome = outcomeCancelled
				}
				observability.CoordinatorTurnsTotal.WithLabelValues(name, outcome).Inc()
				yield("", err)
				return
			}

			if !parser.HasCompleteToolCalls() {
				observability.CoordinatorTurnsTotal.WithLabelValues(name, outcomeText).Inc()
				debug.Log("engine", "conversation finished", "provider", name, "turns", turn+1)
				return
			}

			calls := parser.ToolCalls()
			debug.Log("engine", "turn requested tools", "provider", name, "turn", turn+1, "calls", len(calls))

			executed, results, err := c.runTools(ctx, adapter, exec, calls, opts)
			if err != nil {
				observability.CoordinatorTurnsTotal.WithLabelValues(name, outcomeCancelled).Inc()
				yield("", err)
				return
			}

			if text != "" || len(executed) > 0 {
				conversation = append(conversation, api.Message{
					Role:      api.RoleAssistant,
					Content:   text,
					ToolCalls: executed,
				})
			}
			conversation = append(conversation, results...)
			observability.CoordinatorTurnsTotal.WithLabelValues(name, outcomeToolCalls).Inc()
		}

		observability.CoordinatorTurnsTotal.WithLabelValues(name, outcomeMaxTurns).Inc()
		slog.Warn("tool calling stopped at turn limit without a final answer",
			"provider", name,
			"max_turns", maxTurns,
		)
	}
}

// streamTurn runs one model turn, yielding text as it arrives. stop is
// true when the consumer stopped iterating.
func (c *Coordinator) streamTurn(ctx context.Context, adapter provider.Adapter, parser provider.Parser, conversation []api.Message, yield func(string, error) bool) (text string, stop bool, err error) {
	start := c.now()
	defer func() {
		observability.ProviderLatency.WithLabelValues(adapter.Name()).Observe(c.now().Sub(start).Seconds())
	}()

	var sb strings.Builder
	for chunk, err := range adapter.SendRequest(ctx, conversation) {
		if err != nil {
			return sb.String(), false, fmt.Errorf("%s stream: %w", adapter.Name(), err)
		}
		sc := parser.ParseChunk(chunk)
		if sc == nil || sc.Type != provider.ChunkText || sc.Content == "" {
			continue
		}
		sb.WriteString(sc.Content)
		if !yield(sc.Content, nil) {
			return sb.String(), true, nil
		}
	}
	return sb.String(), false, nil
}

// runTools executes calls in order. It returns the calls that ran and the
// formatted result messages, in matching order. Calls whose tool no server
// provides are skipped.
func (c *Coordinator) runTools(ctx context.Context, adapter provider.Adapter, exec ToolExecutor, calls []api.ToolCall, opts Options) ([]api.ToolCall, []api.Message, error) {
	var executed []api.ToolCall
	var results []api.Message

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		server := adapter.FindServer(ctx, call.Name)
		if server == nil {
			slog.Warn("skipping tool call: no server provides the tool",
				"tool", call.Name,
				"call_id", call.ID,
			)
			if opts.OnToolSkipped != nil {
				opts.OnToolSkipped(call)
			}
			continue
		}

		if opts.OnToolCall != nil {
			opts.OnToolCall(call, *server)
		}

		result := c.execute(ctx, exec, *server, call, opts.DocumentPath)

		if opts.OnToolResult != nil {
			opts.OnToolResult(call, result)
		}
		if opts.Editor != nil {
			if _, err := io.WriteString(opts.Editor, FormatToolCallout(*server, call, result)); err != nil {
				slog.Warn("writing tool callout failed", "tool", call.Name, "error", err)
			}
		}

		executed = append(executed, call)
		results = append(results, adapter.FormatToolResult(call.ID, result))
	}
	return executed, results, nil
}

// execute runs one call. Failures become a json result carrying the error
// message so the model can react to them.
func (c *Coordinator) execute(ctx context.Context, exec ToolExecutor, server api.ToolServerInfo, call api.ToolCall, documentPath string) *api.ToolResult {
	result, err := exec.ExecuteTool(ctx, executor.Request{
		ServerID:     server.ID,
		ToolName:     call.Name,
		Parameters:   call.Arguments,
		Source:       api.SourceAIAutonomous,
		DocumentPath: documentPath,
	})
	if err != nil {
		slog.Warn("autonomous tool call failed",
			"server", server.ID,
			"tool", call.Name,
			"call_id", call.ID,
			"error", err.Error(),
		)
		return &api.ToolResult{
			Content:     map[string]any{"error": err.Error()},
			ContentType: api.ContentTypeJSON,
		}
	}
	if result == nil {
		return &api.ToolResult{Content: nil, ContentType: api.ContentTypeJSON}
	}
	return result
}
