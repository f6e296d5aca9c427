package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/next-unicorn-dev/canvas/confirm"
	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/generation"
	"github.com/next-unicorn-dev/canvas/task"
	"github.com/next-unicorn-dev/canvas/tool"
)

const maxBodyBytes = 32 << 20

type toolInfo struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type chatRequest struct {
	SessionID    string               `json:"session_id"`
	CanvasID     string               `json:"canvas_id"`
	Messages     []core.Message       `json:"messages"`
	TextModel    generation.TextModel `json:"text_model"`
	ToolList     []toolInfo           `json:"tool_list"`
	SystemPrompt string               `json:"system_prompt"`
}

type magicRequest struct {
	SessionID string         `json:"session_id"`
	CanvasID  string         `json:"canvas_id"`
	Messages  []core.Message `json:"messages"`
}

type toolConfirmationRequest struct {
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`
	Confirmed  bool   `json:"confirmed"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// runError maps errors returned before a run starts.
func (s *Server) runError(w http.ResponseWriter, sessionID string, err error) {
	s.logger.Warn("server.run.rejected", "session_id", sessionID, "error", err.Error())
	switch {
	case errors.Is(err, generation.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, generation.ErrConfiguration):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, task.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) allow(w http.ResponseWriter, sessionID string) bool {
	if s.limiter.Allow(sessionID) {
		return true
	}
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please slow down")
	return false
}

// handleChat runs a chat turn and answers once it is done. The run is
// detached from the request so a dropped connection does not cancel it;
// cancellation goes through the cancel endpoint.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.allow(w, req.SessionID) {
		return
	}

	tools := make([]string, 0, len(req.ToolList))
	for _, t := range req.ToolList {
		if t.ID != "" {
			tools = append(tools, t.ID)
		}
	}

	err := s.svc.Chat(context.WithoutCancel(r.Context()), generation.ChatRequest{
		SessionID:    req.SessionID,
		CanvasID:     req.CanvasID,
		Messages:     req.Messages,
		TextModel:    req.TextModel,
		Tools:        tools,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		s.runError(w, req.SessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "done"})
}

func (s *Server) handleMagic(w http.ResponseWriter, r *http.Request) {
	var req magicRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.allow(w, req.SessionID) {
		return
	}

	err := s.svc.Magic(context.WithoutCancel(r.Context()), generation.MagicRequest{
		SessionID: req.SessionID,
		CanvasID:  req.CanvasID,
		Messages:  req.Messages,
	})
	if err != nil {
		s.runError(w, req.SessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "done"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	status := s.svc.Cancel(r.PathValue("session_id"))
	writeJSON(w, http.StatusOK, statusResponse{Status: string(status)})
}

func (s *Server) handleToolConfirmation(w http.ResponseWriter, r *http.Request) {
	var req toolConfirmationRequest
	if !decode(w, r, &req) {
		return
	}

	var res confirm.Result
	if req.Confirmed {
		res = s.svc.Gate().Confirm(req.SessionID, req.ToolCallID)
	} else {
		res = s.svc.Gate().Cancel(req.SessionID, req.ToolCallID)
	}
	if res != confirm.Resolved {
		writeError(w, http.StatusNotFound, "tool call not found or already handled")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (s *Server) handleChatSession(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.Store().ListMessages(r.Context(), r.PathValue("session_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleCanvasSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.Store().ListSessions(r.Context(), r.PathValue("canvas_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleListTools lists the catalog's user-selectable tools.
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	out := []toolInfo{}
	for _, name := range s.catalog.NamesOfKind(tool.KindImage, tool.KindVideo) {
		e, _ := s.catalog.Entry(name)
		out = append(out, toolInfo{ID: name, Type: string(e.Kind)})
	}
	writeJSON(w, http.StatusOK, out)
}
