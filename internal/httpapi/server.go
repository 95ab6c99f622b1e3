// Package httpapi is the inbound HTTP facade (SPEC_FULL.md §6): the
// executor-job completion callback, the inbound routes the core's message
// topics require (a user sending a message, and a human responding to an
// inbox item), and a read-only listing of a user's pending inbox. The
// message handlers decode a JSON body, shape it into the right
// model.Envelope, and hand it to durable.Engine.Send (or StartWorkflow, for
// a user's first message). Storage is read in two places only: the lookup
// that routes a queue-item response to its owning main thread, and the
// inbox listing.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/queue"
	"github.com/mainloopdev/mainloopd/internal/storage"
	"github.com/mainloopdev/mainloopd/internal/telemetry"
	"github.com/mainloopdev/mainloopd/internal/workflow/mainthread"
)

// Server wires the inbound routes to the collaborators their handlers need.
// It implements http.Handler directly so cmd/mainloopd can hand it straight
// to http.Server.
type Server struct {
	Engine durable.Engine
	Store  storage.Store
	Log    telemetry.Logger

	router *mux.Router
}

// New constructs a Server and registers its routes. engine and store must
// not be nil.
func New(engine durable.Engine, store storage.Store, log telemetry.Logger) *Server {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	s := &Server{Engine: engine, Store: store, Log: log}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("/internal/tasks/{task_id}/complete", s.handleTaskComplete).Methods(http.MethodPost)
	s.router.HandleFunc("/api/users/{user_id}/messages", s.handleUserMessage).Methods(http.MethodPost)
	s.router.HandleFunc("/api/users/{user_id}/inbox", s.handleListInbox).Methods(http.MethodGet)
	s.router.HandleFunc("/api/queue-items/{item_id}/respond", s.handleQueueItemRespond).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ensureMainThreadStarted starts userID's main-thread workflow if it is not
// already running. StartWorkflow is idempotent per workflow id (§3), so
// calling this before every user_message Send is cheap and race-free.
func (s *Server) ensureMainThreadStarted(r *http.Request, userID string) error {
	_, err := s.Engine.StartWorkflow(r.Context(), durable.WorkflowStartRequest{
		ID:       queue.MainThreadWorkflowID(userID),
		Workflow: mainthread.WorkflowName,
		Queue:    queue.MainThreads,
		Input:    mainthread.Input{UserID: userID},
	})
	return err
}
