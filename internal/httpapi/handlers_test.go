package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/durable/inmem"
	"github.com/mainloopdev/mainloopd/internal/httpapi"
	"github.com/mainloopdev/mainloopd/internal/storage/memory"
)

func newServer(t *testing.T) (*httpapi.Server, durable.Engine) {
	t.Helper()
	store := memory.New()
	eng := inmem.New(nil)
	return httpapi.New(eng, store, nil), eng
}

func postTaskComplete(t *testing.T, s *httpapi.Server, taskID string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/internal/tasks/"+taskID+"/complete", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func registerNoopWorkflow(t *testing.T, eng durable.Engine, taskID string) {
	t.Helper()
	require.NoError(t, eng.RegisterWorkflow(context.Background(), durable.WorkflowDefinition{
		Name:    "noop",
		Handler: func(wc durable.WorkflowContext, input any) (any, error) { return nil, nil },
	}))
	_, err := eng.StartWorkflow(context.Background(), durable.WorkflowStartRequest{
		ID: taskID, Workflow: "noop",
	})
	require.NoError(t, err)
}

// TestHandleTaskCompleteRejectsSchemaMismatch drives §6's task-complete
// contract: a result payload with the wrong type for a known field must be
// rejected before it ever reaches the worker workflow as a job_result Send.
func TestHandleTaskCompleteRejectsSchemaMismatch(t *testing.T) {
	s, eng := newServer(t)
	taskID := "task-1"
	registerNoopWorkflow(t, eng, taskID)

	rec := postTaskComplete(t, s, taskID, map[string]any{
		"status": "completed",
		"result": map[string]any{"pr_url": 12345},
	})
	require.Equal(t, 400, rec.Code)
}

func TestHandleTaskCompleteAcceptsValidResult(t *testing.T) {
	s, eng := newServer(t)
	taskID := "task-2"
	registerNoopWorkflow(t, eng, taskID)

	rec := postTaskComplete(t, s, taskID, map[string]any{
		"status": "completed",
		"result": map[string]any{"pr_url": "https://github.com/acme/widgets/pull/7"},
	})
	require.Equal(t, 202, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "accepted", resp["status"])
}
