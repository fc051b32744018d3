// Package api exposes the task pipeline over HTTP: task creation and
// inspection, the approval endpoint, plan/report retrieval, and real-time
// updates over SSE and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/orchestrator"
	"github.com/taskpilot/taskpilot/internal/taskstore"
)

const shutdownTimeout = 10 * time.Second

// Arbiter is the slice of the orchestrator engine the API calls
// synchronously. Pipeline stages themselves run through the queue.
type Arbiter interface {
	Approve(ctx context.Context, taskID string, approved bool, feedback string) (orchestrator.Decision, error)
}

// Enqueuer schedules pipeline stages. Satisfied by the queue pool.
type Enqueuer interface {
	Enqueue(kind, taskID, payload string) (int64, error)
}

// Server is the HTTP API server.
type Server struct {
	store   *taskstore.Store
	arbiter Arbiter
	queue   Enqueuer
	addr    string
	mux     *http.ServeMux
	sseHub  *SSEHub
	wsHub   *WSHub

	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(store *taskstore.Store, arbiter Arbiter, queue Enqueuer, addr string) *Server {
	s := &Server{
		store:   store,
		arbiter: arbiter,
		queue:   queue,
		addr:    addr,
		mux:     http.NewServeMux(),
		sseHub:  NewSSEHub(),
		wsHub:   NewWSHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.healthHandler())
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/tasks", s.tasksHandler())
	s.mux.HandleFunc("/api/tasks/", s.taskSubHandler())
	s.mux.HandleFunc("/api/projects", s.projectsHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.sseHub.Run()
	go s.wsHub.Run()

	s.httpServer = &http.Server{Addr: s.addr, Handler: s.mux}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler returns the server's routing mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// TaskUpdated implements the orchestrator's event sink: every persisted
// transition is pushed to SSE and WebSocket clients.
func (s *Server) TaskUpdated(task *domain.Task) {
	resp := taskToResponse(task)
	s.sseHub.Broadcast(SSEEvent{Type: "task_update", Data: resp})
	s.wsHub.Broadcast(WSMessage{Type: "task_update", Data: resp})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
