// Package server provides the HTTP and WebSocket surface of the context
// kernel.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/gating"
	"github.com/adaptive-context-kernel/internal/graph"
	"github.com/adaptive-context-kernel/internal/jsonx"
	"github.com/adaptive-context-kernel/internal/kernel"
	"github.com/adaptive-context-kernel/internal/provider"
)

// Server exposes kernel operations over HTTP.
type Server struct {
	kernel   *kernel.Kernel
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP server for a kernel.
func NewServer(k *kernel.Kernel, logger *zap.Logger) *Server {
	return &Server{
		kernel: k,
		logger: logger.Named("server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/conversations/{id}/turns", s.handleAddTurn).Methods("POST")
	api.HandleFunc("/conversations/{id}/compile", s.handleCompile).Methods("POST")
	api.HandleFunc("/conversations/{id}/critique", s.handleCritique).Methods("POST")
	api.HandleFunc("/conversations/{id}", s.handleEndConversation).Methods("DELETE")

	api.HandleFunc("/retrieve", s.handleRetrieve).Methods("POST")
	api.HandleFunc("/gate/filter", s.handleFilter).Methods("POST")
	api.HandleFunc("/gate/feedback", s.handleFeedback).Methods("POST")
	api.HandleFunc("/gate/{project}/{type}", s.handleGateProfile).Methods("GET")

	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/ws/stats", s.handleStatsStream)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		s.logger.Error("response encode failed", zap.Error(err))
		http.Error(w, "encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type addTurnRequest struct {
	Role     string   `json:"role"`
	Content  string   `json:"content"`
	ParentID string   `json:"parent_id,omitempty"`
	TaskIDs  []string `json:"task_ids,omitempty"`
	// Importance above zero overrides the default downgrade weight of 1.
	Importance float64 `json:"importance,omitempty"`
}

func (s *Server) handleAddTurn(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var req addTurnRequest
	if err := jsonx.DecodeReader(r.Body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	node, err := s.kernel.AddTurn(r.Context(), conversationID, graph.Role(req.Role), req.Content, req.ParentID, req.TaskIDs, req.Importance)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, node)
}

type compileRequest struct {
	CurrentNodeID string `json:"current_node_id"`
	MaxTokens     int    `json:"max_tokens"`
	// Rendered selects the deterministic textual form instead of the
	// structured window.
	Rendered bool `json:"rendered,omitempty"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var req compileRequest
	if err := jsonx.DecodeReader(r.Body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Rendered {
		rendered, err := s.kernel.CompileRendered(r.Context(), conversationID, req.CurrentNodeID, req.MaxTokens)
		if err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(rendered)
		return
	}

	window, err := s.kernel.Compile(r.Context(), conversationID, req.CurrentNodeID, req.MaxTokens)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, window)
}

type critiqueRequest struct {
	CurrentNodeID string `json:"current_node_id"`
	Query         string `json:"query"`
	MaxTokens     int    `json:"max_tokens"`
}

func (s *Server) handleCritique(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var req critiqueRequest
	if err := jsonx.DecodeReader(r.Body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	window, err := s.kernel.Critique(r.Context(), conversationID, req.CurrentNodeID, req.Query, req.MaxTokens)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, window)
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]
	if err := s.kernel.EndConversation(r.Context(), conversationID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type retrieveRequest struct {
	Query  string               `json:"query"`
	FetchK int                  `json:"fetch_k,omitempty"`
	Gate   gating.FilterRequest `json:"gate"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := jsonx.DecodeReader(r.Body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	chunks, err := s.kernel.Retrieve(r.Context(), req.Query, req.FetchK, req.Gate)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks})
}

type filterRequest struct {
	Candidates []provider.Candidate `json:"candidates"`
	Gate       gating.FilterRequest `json:"gate"`
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := jsonx.DecodeReader(r.Body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	chunks, err := s.kernel.FilterCandidates(r.Context(), req.Candidates, req.Gate)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks})
}

type feedbackRequest struct {
	ProjectID     string         `json:"project_id"`
	RetrievalType string         `json:"retrieval_type"`
	Feedback      gating.Feedback `json:"feedback"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := jsonx.DecodeReader(r.Body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.kernel.RecordFeedback(r.Context(), req.ProjectID, req.RetrievalType, req.Feedback); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGateProfile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	state, err := s.kernel.GateProfile(r.Context(), vars["project"], vars["type"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.kernel.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleStatsStream pushes kernel stats over a WebSocket every two
// seconds until the client goes away.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	go func() {
		defer conn.Close()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		// Drain client frames so pings and close messages are handled.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				data, err := jsonx.Marshal(s.kernel.Stats())
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}
