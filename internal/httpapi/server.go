// Package httpapi exposes the REST and websocket surface over the HITL
// core. It is a thin layer: every handler delegates to the manager.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/okvist/waypost/internal/approval"
	"github.com/okvist/waypost/internal/cells"
	"github.com/okvist/waypost/internal/config"
	"github.com/okvist/waypost/internal/hitl"
	"github.com/okvist/waypost/internal/observability"
	"github.com/okvist/waypost/internal/protocol"
	"github.com/okvist/waypost/internal/tasks"
)

type Server struct {
	cfg      config.Config
	manager  *hitl.Manager
	hub      *approval.OperatorHub
	cells    *cells.Manager
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

// New builds the API server. hub may be nil when the approval channel runs
// over Telegram; the operator websocket then reports unavailable.
func New(cfg config.Config, manager *hitl.Manager, hub *approval.OperatorHub, cellMgr *cells.Manager, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		hub:     hub,
		cells:   cellMgr,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; non-browser clients omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/hitl/tasks", s.handleCreateTask)
	r.Get("/v1/hitl/tasks", s.handleListTasks)
	r.Get("/v1/hitl/tasks/{id}", s.handleGetTask)
	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/operator/ws", s.handleOperatorWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	transport := s.cfg.TransportMode
	if s.hub != nil {
		transport = s.hub.Name()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"store_mode":   s.cfg.StoreMode,
		"transport":    transport,
		"active_cells": s.cells.ActiveCount(),
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req tasks.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	task, err := s.manager.CreateTask(r.Context(), req)
	if err != nil {
		if errors.Is(err, approval.ErrChannelUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "channel_unavailable", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	waiting, err := s.manager.ListAwaitingHuman(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": waiting})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.manager.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}

type chatRequest struct {
	CellID string `json:"cell_id,omitempty"`
	Input  string `json:"input"`
}

type chatResponse struct {
	CellID   string `json:"cell_id"`
	Response string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "input is required")
		return
	}

	cellID := strings.TrimSpace(req.CellID)
	if cellID == "" {
		cellID = s.cfg.CellID
	}
	if cellID != s.cfg.CellID {
		// This process serves exactly one cell; silently persisting the
		// turn under the configured cell would corrupt its memory.
		respondError(w, http.StatusNotFound, "unknown_cell", "unknown cell_id: "+cellID)
		return
	}
	s.cells.Ensure(cellID)
	defer func() { _ = s.cells.Touch(cellID) }()

	response, err := s.manager.Run(r.Context(), req.Input, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "chat_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{CellID: cellID, Response: response})
}

func (s *Server) handleOperatorWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "operator channel is not active")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, outbound, detach := s.hub.Attach()
	defer detach()
	replyRef := "op-" + strconv.Itoa(id)

	ctx := r.Context()
	errs := make(chan protocol.ErrorEvent, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var frame any
			select {
			case <-ctx.Done():
				return
			case f, ok := <-outbound:
				if !ok {
					return
				}
				frame = f
			case ev := <-errs:
				frame = ev
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseOperatorMessage(data)
		if err != nil {
			ev := protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_operator_message",
				Detail: err.Error(),
			}
			// Keep websocket writes single-threaded; drop if saturated.
			select {
			case errs <- ev:
			default:
			}
			continue
		}
		s.hub.Inbound(replyRef, parsed)
	}
	// Detach first: it closes the outbound channel, which is what lets the
	// writer goroutine exit. Waiting before detaching would deadlock the
	// handler and leave the hub counting a dead client.
	detach()
	<-writerDone
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
