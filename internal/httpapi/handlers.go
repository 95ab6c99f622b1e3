package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/queue"
	"github.com/mainloopdev/mainloopd/internal/storage"
)

// taskCompleteBody is the executor-job callback payload, verbatim from §6:
// `{task_id, status ∈ {completed,failed}, result?, error?, completed_at?}`.
// task_id is accepted for schema completeness but the path's {task_id} is
// authoritative for where the job_result is delivered.
type taskCompleteBody struct {
	TaskID      string         `json:"task_id"`
	Status      string         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// handleTaskComplete is the runner callback contract from §4.3.3: the
// runner POSTs exactly once per invocation, and this boundary translates
// that POST into a job_result Send to the worker-task workflow named by
// the path's task_id.
func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	var body taskCompleteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Status != "completed" && body.Status != "failed" {
		writeError(w, http.StatusBadRequest, "status must be completed or failed")
		return
	}
	if err := validateTaskResult(body.Result); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("result does not match schema: %v", err))
		return
	}

	env := model.JobResultEnvelope{
		TaskID:  taskID,
		Success: body.Status == "completed",
		Output:  body.Result,
		Error:   body.Error,
	}
	if err := s.Engine.Send(r.Context(), taskID, model.TopicJobResult, env); err != nil {
		s.Log.Error(r.Context(), "httpapi: deliver job_result", "task_id", taskID, "err", err)
		writeError(w, http.StatusNotFound, "task not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// userMessageBody is the inbound chat-message payload. message_id lets a
// client supply its own idempotency key; one is not generated server-side
// since de-duplication is the caller's concern, not this boundary's.
type userMessageBody struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// handleUserMessage starts the user's main-thread workflow on first
// contact (idempotent — see ensureMainThreadStarted) and delivers the
// message as a user_message Send, matching the §4.6 event-loop's entry
// point exactly.
func (s *Server) handleUserMessage(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	var body userMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := s.ensureMainThreadStarted(r, userID); err != nil {
		s.Log.Error(r.Context(), "httpapi: start main thread", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not start main thread")
		return
	}

	env := model.UserMessageEnvelope{
		MessageID: body.MessageID,
		UserID:    userID,
		Text:      body.Text,
		SentAt:    time.Now().UTC(),
	}
	wfID := queue.MainThreadWorkflowID(userID)
	if err := s.Engine.Send(r.Context(), wfID, model.TopicUserMessage, env); err != nil {
		s.Log.Error(r.Context(), "httpapi: deliver user_message", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not deliver message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleListInbox returns userID's pending inbox (QueueItem) rows, the
// operator-facing read path mainloopctl's "inbox" command uses.
func (s *Server) handleListInbox(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	items, err := s.Store.ListPendingQueueItems(r.Context(), userID)
	if err != nil {
		s.Log.Error(r.Context(), "httpapi: list inbox", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not list inbox")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// queueItemRespondBody is the inbox-response payload: `{response,
// responded_by}`, matching the queue_response row of §4's topic table.
type queueItemRespondBody struct {
	Response    string `json:"response"`
	RespondedBy string `json:"responded_by"`
}

// handleQueueItemRespond looks up the queue item to find the main thread
// it belongs to (its own workflow id isn't known to the caller), then
// delivers the response as a queue_response Send to that main thread.
func (s *Server) handleQueueItemRespond(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["item_id"]

	var body queueItemRespondBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	qi, err := s.Store.GetQueueItem(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "queue item not found")
			return
		}
		s.Log.Error(r.Context(), "httpapi: load queue item", "item_id", itemID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not load queue item")
		return
	}

	env := model.QueueResponseEnvelope{
		QueueItemID: itemID,
		Response:    body.Response,
		RespondedBy: body.RespondedBy,
	}
	wfID := queue.MainThreadWorkflowID(qi.UserID)
	if err := s.Engine.Send(r.Context(), wfID, model.TopicQueueResponse, env); err != nil {
		s.Log.Error(r.Context(), "httpapi: deliver queue_response", "item_id", itemID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not deliver response")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
