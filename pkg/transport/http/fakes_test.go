package http

import (
	"context"
	"encoding/json"
	"iter"
	"sync"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/discovery"
	"github.com/rhuss/toolbridge/pkg/executor"
	"github.com/rhuss/toolbridge/pkg/provider"
	"github.com/rhuss/toolbridge/pkg/storage"
)

type fakeCatalog struct {
	snap        *api.Snapshot
	err         error
	refreshed   bool
	invalidated []string
}

func (c *fakeCatalog) Snapshot(_ context.Context, opts discovery.Options) (*api.Snapshot, error) {
	c.refreshed = opts.ForceRefresh
	return c.snap, c.err
}

func (c *fakeCatalog) Invalidate(reason string)   { c.invalidated = append(c.invalidated, reason) }
func (c *fakeCatalog) Metrics() discovery.Metrics { return discovery.Metrics{Requests: 3, Hits: 2} }

type fakeExecutions struct {
	result  *executor.Result
	err     error
	history []api.ExecutionHistoryEntry
	active  map[string]bool
	reset   bool

	mu   sync.Mutex
	reqs []executor.Request
}

func (e *fakeExecutions) ExecuteToolWithID(_ context.Context, req executor.Request) (*executor.Result, error) {
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	e.mu.Unlock()
	return e.result, e.err
}

func (e *fakeExecutions) ExecuteTool(ctx context.Context, req executor.Request) (*api.ToolResult, error) {
	res, err := e.ExecuteToolWithID(ctx, req)
	if err != nil {
		return nil, err
	}
	return &res.ToolResult, nil
}

func (e *fakeExecutions) CancelExecution(id string) bool {
	ok := e.active[id]
	delete(e.active, id)
	return ok
}

func (e *fakeExecutions) History() []api.ExecutionHistoryEntry { return e.history }

func (e *fakeExecutions) Stats() executor.Stats {
	return executor.Stats{Active: len(e.active), TotalExecuted: len(e.history), ConcurrentLimit: 3, SessionLimit: 25}
}

func (e *fakeExecutions) Reset() { e.reset = true }

type fakeHealth struct {
	statuses  map[string]api.ServerHealthStatus
	reenabled []string
}

func (h *fakeHealth) AllHealthStatuses() []api.ServerHealthStatus {
	var out []api.ServerHealthStatus
	for _, id := range []string{"search", "weather"} {
		if st, ok := h.statuses[id]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (h *fakeHealth) HealthStatus(id string) (api.ServerHealthStatus, bool) {
	st, ok := h.statuses[id]
	return st, ok
}

func (h *fakeHealth) ReenableServer(id string) {
	h.reenabled = append(h.reenabled, id)
	st := h.statuses[id]
	st.AutoDisabledAt = nil
	st.ConsecutiveFailures = 0
	st.ConnectionState = api.StateDisconnected
	h.statuses[id] = st
}

type fakeHistory struct {
	entries []api.ExecutionHistoryEntry
	filter  storage.Filter
	healthy error
}

func (h *fakeHistory) GetExecution(_ context.Context, id string) (api.ExecutionHistoryEntry, error) {
	for _, e := range h.entries {
		if e.RequestID == id {
			return e, nil
		}
	}
	return api.ExecutionHistoryEntry{}, storage.ErrNotFound
}

func (h *fakeHistory) ListExecutions(_ context.Context, f storage.Filter) ([]api.ExecutionHistoryEntry, error) {
	h.filter = f
	var out []api.ExecutionHistoryEntry
	for _, e := range h.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *fakeHistory) HealthCheck(context.Context) error { return h.healthy }

// chatParser understands {"text": "..."} and {"call": {...}} chunks.
type chatParser struct {
	calls []api.ToolCall
}

func (p *chatParser) ParseChunk(raw provider.Chunk) *provider.StreamChunk {
	var c struct {
		Text string        `json:"text"`
		Call *api.ToolCall `json:"call"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	if c.Call != nil {
		p.calls = append(p.calls, *c.Call)
		return &provider.StreamChunk{Type: provider.ChunkToolCall, ToolCall: &provider.ToolCallDelta{ID: c.Call.ID, Name: c.Call.Name}}
	}
	return &provider.StreamChunk{Type: provider.ChunkText, Content: c.Text}
}

func (p *chatParser) HasCompleteToolCalls() bool { return len(p.calls) > 0 }
func (p *chatParser) ToolCalls() []api.ToolCall  { return provider.CloneToolCalls(p.calls) }
func (p *chatParser) Reset()                     { p.calls = nil }

// chatAdapter plays one scripted turn per request. With block set it
// waits for cancellation instead.
type chatAdapter struct {
	turns  [][]string
	err    error
	block  bool
	parser chatParser
	n      int
}

func (a *chatAdapter) Name() string             { return "script" }
func (a *chatAdapter) Parser() provider.Parser { return &a.parser }

func (a *chatAdapter) SendRequest(ctx context.Context, _ []api.Message) iter.Seq2[provider.Chunk, error] {
	turn := a.turns[min(a.n, len(a.turns)-1)]
	a.n++
	return func(yield func(provider.Chunk, error) bool) {
		if a.block {
			<-ctx.Done()
			yield(nil, ctx.Err())
			return
		}
		if a.err != nil {
			yield(nil, a.err)
			return
		}
		for _, c := range turn {
			if !yield(provider.Chunk(c), nil) {
				return
			}
		}
	}
}

func (a *chatAdapter) FindServer(_ context.Context, name string) *api.ToolServerInfo {
	if name == "get_weather" {
		return &api.ToolServerInfo{ID: "weather", Name: "Weather Server"}
	}
	return nil
}

func (a *chatAdapter) FormatToolResult(callID string, result *api.ToolResult) api.Message {
	return api.Message{Role: api.RoleTool, ToolCallID: callID, Content: provider.ResultText(result)}
}
