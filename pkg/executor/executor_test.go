package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/tools"
	"github.com/rhuss/toolbridge/pkg/tools/toolstest"
)

func newTestExecutor(t *testing.T, client *toolstest.Client, cfg Config) *Executor {
	t.Helper()
	reg := toolstest.NewRegistry().Add("weather", "Weather Server", client)
	return New(reg, cfg, nil)
}

func request(tool string) Request {
	return Request{
		ServerID:     "weather",
		ToolName:     tool,
		Parameters:   map[string]any{"city": "Berlin"},
		Source:       api.SourceUserCodeblock,
		DocumentPath: "notes/today.md",
	}
}

// blockingClient returns a client whose calls block until ctx is done or
// release is closed, signalling entered on each call.
func blockingClient() (*toolstest.Client, chan struct{}, chan struct{}) {
	entered := make(chan struct{}, 10)
	release := make(chan struct{})
	return &toolstest.Client{
		CallFn: func(ctx context.Context, name string, args map[string]any) (*api.ToolResult, error) {
			entered <- struct{}{}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
				return &api.ToolResult{Content: "done", ContentType: api.ContentTypeText}, nil
			}
		},
	}, entered, release
}

func TestExecuteTool_SessionLimit(t *testing.T) {
	client := &toolstest.Client{}
	e := newTestExecutor(t, client, Config{ConcurrentLimit: 1, SessionLimit: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := e.ExecuteTool(ctx, request("forecast")); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}

	_, err := e.ExecuteTool(ctx, request("forecast"))
	var limitErr *api.ExecutionLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected ExecutionLimitError, got %v", err)
	}
	if limitErr.LimitType != api.LimitSession {
		t.Errorf("LimitType = %q, want session", limitErr.LimitType)
	}
	if limitErr.TotalExecuted != 2 || limitErr.SessionLimit != 2 {
		t.Errorf("counters = %+v", limitErr)
	}
	if client.CallCalls() != 2 {
		t.Errorf("client called %d times, want 2", client.CallCalls())
	}
}

func TestExecuteTool_ConcurrentLimitReportsConcurrent(t *testing.T) {
	client, entered, release := blockingClient()
	e := newTestExecutor(t, client, Config{ConcurrentLimit: 1, SessionLimit: Unlimited})

	done := make(chan error, 1)
	go func() {
		_, err := e.ExecuteTool(context.Background(), request("slow"))
		done <- err
	}()
	<-entered

	if e.CanExecute("") {
		t.Error("CanExecute should be false at the concurrency cap")
	}
	_, err := e.ExecuteTool(context.Background(), request("slow"))
	var limitErr *api.ExecutionLimitError
	if !errors.As(err, &limitErr) || limitErr.LimitType != api.LimitConcurrent {
		t.Fatalf("expected concurrent limit error, got %v", err)
	}
	if limitErr.Active != 1 {
		t.Errorf("Active = %d, want 1", limitErr.Active)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first execution: %v", err)
	}
	if !e.CanExecute("") {
		t.Error("CanExecute should be true after the slot frees")
	}
}

func TestExecuteTool_AlreadyCancelled(t *testing.T) {
	client := &toolstest.Client{}
	e := newTestExecutor(t, client, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ExecuteTool(ctx, request("forecast"))
	if err == nil || err.Error() != "Tool execution was cancelled" {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if client.CallCalls() != 0 {
		t.Errorf("client called %d times, want 0", client.CallCalls())
	}

	h := e.History()
	if len(h) != 1 || h[0].Status != api.StatusCancelled {
		t.Fatalf("history = %+v", h)
	}
	if s := e.Stats(); s.Active != 0 || s.TotalExecuted != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestExecuteTool_ServerNotAvailable(t *testing.T) {
	reg := toolstest.NewRegistry().Add("down", "Down", nil)
	e := New(reg, Config{}, nil)

	for _, id := range []string{"down", "unknown"} {
		_, err := e.ExecuteTool(context.Background(), Request{ServerID: id, ToolName: "x"})
		var notAvail *api.ServerNotAvailableError
		if !errors.As(err, &notAvail) {
			t.Errorf("%s: expected ServerNotAvailableError, got %v", id, err)
		}
	}
	if s := e.Stats(); s.Active != 0 || s.TotalExecuted != 0 {
		t.Errorf("stats = %+v", s)
	}
	if len(e.History()) != 0 {
		t.Error("unavailable server should not create history")
	}
}

func TestExecuteTool_FailureClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus api.ExecutionStatus
		wantType   api.ErrorType
	}{
		{"timeout error", &api.TimeoutError{ToolName: "forecast", Timeout: "30s"}, api.StatusTimeout, api.ErrorTypeTimeout},
		{"deadline", context.DeadlineExceeded, api.StatusTimeout, api.ErrorTypeTimeout},
		{"not found", &api.ToolNotFoundError{ServerID: "weather", ToolName: "forecast"}, api.StatusError, api.ErrorTypeToolNotFound},
		{"plain", errors.New("Network timeout"), api.StatusError, api.ErrorTypeToolExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &toolstest.Client{
				CallFn: func(context.Context, string, map[string]any) (*api.ToolResult, error) {
					return nil, tt.err
				},
			}
			e := newTestExecutor(t, client, Config{})

			_, err := e.ExecuteTool(context.Background(), request("forecast"))
			if api.ErrorTypeOf(err) != tt.wantType {
				t.Errorf("error type = %q, want %q (err=%v)", api.ErrorTypeOf(err), tt.wantType, err)
			}
			h := e.History()
			if len(h) != 1 || h[0].Status != tt.wantStatus {
				t.Fatalf("history = %+v", h)
			}
			if h[0].ErrorMessage == "" {
				t.Error("ErrorMessage not recorded")
			}
		})
	}
}

func TestExecuteTool_Success(t *testing.T) {
	client := &toolstest.Client{}
	e := newTestExecutor(t, client, Config{})

	res, err := e.ExecuteToolWithID(context.Background(), request("forecast"))
	if err != nil {
		t.Fatalf("ExecuteToolWithID: %v", err)
	}
	if !api.ValidateRequestID(res.RequestID) {
		t.Errorf("RequestID = %q", res.RequestID)
	}
	if res.ContentType != api.ContentTypeJSON {
		t.Errorf("ContentType = %q", res.ContentType)
	}
	if got := client.Timeouts(); len(got) != 1 || got[0] != tools.DefaultCallTimeout {
		t.Errorf("timeouts = %v, want [%v]", got, tools.DefaultCallTimeout)
	}

	h := e.History()
	if len(h) != 1 {
		t.Fatalf("history len = %d", len(h))
	}
	entry := h[0]
	if entry.RequestID != res.RequestID || entry.Status != api.StatusSuccess {
		t.Errorf("entry = %+v", entry)
	}
	if entry.ServerName != "Weather Server" || entry.Source != api.SourceUserCodeblock {
		t.Errorf("entry = %+v", entry)
	}
}

func TestCancelExecution(t *testing.T) {
	client, entered, _ := blockingClient()
	e := newTestExecutor(t, client, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := e.ExecuteTool(context.Background(), request("slow"))
		done <- err
	}()
	<-entered

	ids := e.ActiveRequests()
	if len(ids) != 1 {
		t.Fatalf("active = %v", ids)
	}
	if !e.CancelExecution(ids[0]) {
		t.Fatal("CancelExecution returned false for active request")
	}

	err := <-done
	var cancelled *api.CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
	if h := e.History(); h[0].Status != api.StatusCancelled {
		t.Errorf("status = %q", h[0].Status)
	}
	if e.CancelExecution(ids[0]) {
		t.Error("CancelExecution of finished request should be a no-op")
	}
	if e.CancelExecution("exec_unknown") {
		t.Error("CancelExecution of unknown request should be a no-op")
	}
}

func TestHistoryBounded(t *testing.T) {
	e := newTestExecutor(t, &toolstest.Client{}, Config{SessionLimit: Unlimited, HistoryLimit: 5})
	var last string
	for i := 0; i < 8; i++ {
		res, err := e.ExecuteToolWithID(context.Background(), request("forecast"))
		if err != nil {
			t.Fatal(err)
		}
		last = res.RequestID
	}
	h := e.History()
	if len(h) != 5 {
		t.Fatalf("history len = %d, want 5", len(h))
	}
	if h[4].RequestID != last {
		t.Error("newest entry should be last")
	}
	if e.Stats().TotalExecuted != 8 {
		t.Errorf("TotalExecuted = %d", e.Stats().TotalExecuted)
	}
}

func TestDocumentSessions(t *testing.T) {
	e := newTestExecutor(t, &toolstest.Client{}, Config{SessionLimit: Unlimited})
	ctx := context.Background()

	run := func(doc string) {
		req := request("forecast")
		req.DocumentPath = doc
		if _, err := e.ExecuteTool(ctx, req); err != nil {
			t.Fatal(err)
		}
	}
	run("a.md")
	run("a.md")
	run("b.md")

	e.SwitchDocument("a.md")
	if s := e.Stats(); s.TotalExecuted != 3 || s.DocumentCount != 2 || s.CurrentDocument != "a.md" {
		t.Errorf("stats = %+v", s)
	}
	if got := e.TotalSessionCount("b.md"); got != 1 {
		t.Errorf("b.md count = %d", got)
	}

	e.ResetSessionCount("a.md")
	if got := e.TotalSessionCount("a.md"); got != 0 {
		t.Errorf("a.md count after reset = %d", got)
	}
	e.ClearDocumentSession("b.md")
	if got := e.TotalSessionCount("b.md"); got != 0 {
		t.Errorf("b.md count after clear = %d", got)
	}
	if e.Stats().TotalExecuted != 3 {
		t.Error("document operations must not change the global counter")
	}
}

func TestStopAndReset(t *testing.T) {
	client, entered, _ := blockingClient()
	e := newTestExecutor(t, client, Config{SessionLimit: Unlimited})

	done := make(chan error, 1)
	go func() {
		_, err := e.ExecuteTool(context.Background(), request("slow"))
		done <- err
	}()
	<-entered

	e.Stop()
	if err := <-done; api.ErrorTypeOf(err) != api.ErrorTypeCancelled {
		t.Errorf("in-flight execution err = %v, want cancelled", err)
	}

	_, err := e.ExecuteTool(context.Background(), request("slow"))
	var limitErr *api.ExecutionLimitError
	if !errors.As(err, &limitErr) || limitErr.LimitType != api.LimitStopped {
		t.Fatalf("expected stopped limit error, got %v", err)
	}

	e.Reset()
	if s := e.Stats(); s.Stopped || s.TotalExecuted != 0 || len(e.History()) != 0 {
		t.Errorf("after Reset stats = %+v", s)
	}
	if !e.CanExecute("") {
		t.Error("CanExecute should be true after Reset")
	}
}

type recorder struct {
	mu      sync.Mutex
	entries []api.ExecutionHistoryEntry
}

func (r *recorder) RecordExecution(_ context.Context, e api.ExecutionHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func TestHistoryRecorder(t *testing.T) {
	rec := &recorder{}
	reg := toolstest.NewRegistry().Add("weather", "Weather", &toolstest.Client{})
	e := New(reg, Config{}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := e.ExecuteTool(ctx, request("forecast")); err != nil {
		t.Fatal(err)
	}
	cancel()
	e.ExecuteTool(ctx, request("forecast"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.entries) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(rec.entries))
	}
	if rec.entries[0].Status != api.StatusSuccess || rec.entries[1].Status != api.StatusCancelled {
		t.Errorf("statuses = %q, %q", rec.entries[0].Status, rec.entries[1].Status)
	}
	if rec.entries[0].Duration < 0 || rec.entries[0].Timestamp.After(time.Now()) {
		t.Errorf("entry timing = %+v", rec.entries[0])
	}
}
