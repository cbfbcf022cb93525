package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/engine"
	"github.com/rhuss/toolbridge/pkg/provider"
	"github.com/rhuss/toolbridge/pkg/transport"
)

// ChatService bundles what POST /v1/chat needs to run the tool calling
// loop.
type ChatService struct {
	Coordinator *engine.Coordinator

	// NewAdapter returns a fresh adapter per conversation, since adapters
	// keep parser state.
	NewAdapter func() provider.Adapter

	Executor engine.ToolExecutor

	// Provider and Model name the backend in the optional model summary.
	Provider string
	Model    string

	// Servers lists the tool index for the model summary.
	Servers func(ctx context.Context) []api.ServerTools
}

// chatRequest is the body of POST /v1/chat.
type chatRequest struct {
	Messages     []api.Message `json:"messages"`
	DocumentPath string        `json:"document_path"`
	MaxTurns     int           `json:"max_turns"`
	Summary      bool          `json:"summary"`
	Callouts     bool          `json:"callouts"`
}

type toolEvent struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Server    string         `json:"server,omitempty"`
	Result    any            `json:"result,omitempty"`
	Type      string         `json:"content_type,omitempty"`
}

// handleChat streams one tool calling conversation as SSE. The session ID
// sent in the first event can be passed to DELETE /v1/chat/{id}.
func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	chat := a.svc.Chat
	if chat == nil || chat.Coordinator == nil || chat.NewAdapter == nil {
		transport.WriteError(w, http.StatusNotImplemented, transport.ErrorTypeServer, "chat is not configured")
		return
	}

	var req chatRequest
	if !a.decodeBody(w, r, &req, false) {
		return
	}
	if len(req.Messages) == 0 {
		transport.WriteError(w, http.StatusBadRequest, transport.ErrorTypeInvalidRequest, "messages must not be empty")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sessionID := api.NewChatID()
	release := a.inflight.Register(sessionID, cancel)
	defer release()

	sse := newSSEWriter(w)
	if err := sse.WriteEvent(eventSession, map[string]string{"session_id": sessionID}); err != nil {
		return
	}
	if req.Summary {
		var servers []api.ServerTools
		if chat.Servers != nil {
			servers = chat.Servers(ctx)
		}
		md := engine.FormatModelSummary(chat.Provider, chat.Model, servers)
		if err := sse.WriteEvent(eventSummary, map[string]string{"markdown": md}); err != nil {
			return
		}
	}

	emit := func(name string, payload any) {
		if err := sse.WriteEvent(name, payload); err != nil {
			a.logger.Debug("chat event not delivered", "session_id", sessionID, "event", name, "error", err)
		}
	}
	opts := engine.Options{
		MaxTurns:     req.MaxTurns,
		DocumentPath: req.DocumentPath,
		OnToolCall: func(call api.ToolCall, server api.ToolServerInfo) {
			emit(eventToolCall, toolEvent{CallID: call.ID, Name: call.Name, Arguments: call.Arguments, Server: server.ID})
		},
		OnToolResult: func(call api.ToolCall, result *api.ToolResult) {
			emit(eventToolResult, toolEvent{CallID: call.ID, Name: call.Name, Result: result.Content, Type: result.ContentType})
		},
		OnToolSkipped: func(call api.ToolCall) {
			emit(eventToolSkipped, toolEvent{CallID: call.ID, Name: call.Name})
		},
	}
	if req.Callouts {
		opts.Editor = calloutWriter{sse: sse}
	}

	for text, err := range chat.Coordinator.GenerateWithTools(ctx, req.Messages, chat.NewAdapter(), chat.Executor, opts) {
		if err != nil {
			a.writeStreamError(sse, sessionID, err)
			return
		}
		if err := sse.WriteEvent(eventDelta, map[string]string{"text": text}); err != nil {
			a.logger.Debug("chat client went away", "session_id", sessionID, "error", err)
			return
		}
	}
	emit(eventDone, map[string]string{"session_id": sessionID})
}

func (a *Adapter) writeStreamError(sse *sseWriter, sessionID string, err error) {
	errType := transport.ErrorTypeServer
	var backend *provider.BackendError
	switch {
	case errors.Is(err, context.Canceled):
		errType = string(api.ErrorTypeCancelled)
	case errors.As(err, &backend):
		errType = "backend_error"
	}
	a.logger.Warn("chat session ended with error", "session_id", sessionID, "error", err)
	if werr := sse.WriteEvent(eventError, transport.ErrorBody{Type: errType, Message: err.Error()}); werr != nil {
		a.logger.Debug("chat event not delivered", "session_id", sessionID, "event", eventError, "error", werr)
	}
}

func (a *Adapter) handleCancelChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.inflight.Cancel(id) {
		transport.WriteError(w, http.StatusNotFound, transport.ErrorTypeNotFound, fmt.Sprintf("no running chat session %q", id))
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"session_id": id, "cancelled": true})
}
