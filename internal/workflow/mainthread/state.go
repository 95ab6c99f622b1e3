package mainthread

import (
	"github.com/mainloopdev/mainloopd/internal/classifier"
	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/forge"
	"github.com/mainloopdev/mainloopd/internal/model"
)

// Workflow is the durable.WorkflowFunc driving one user's main thread
// through the event loop in SPEC_FULL.md §4.6. Its durable workflow id is
// queue.MainThreadWorkflowID(user_id); it runs until externally cancelled.
func (mt *MainThread) Workflow(wc durable.WorkflowContext, input any) (result any, err error) {
	in := input.(Input)

	var m *model.MainThread
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepLoadOrCreateMainThread, Input: loadOrCreateMainThreadInput{UserID: in.UserID}}, &m); e != nil {
		return nil, e
	}

	handled := 0
	for {
		var env model.Envelope
		ok, e := wc.Recv(wc.Context(), "", HeartbeatInterval, &env)
		if e != nil {
			return Output{UserID: in.UserID, MessagesHandled: handled}, e
		}
		if !ok {
			// Durable heartbeat: nothing arrived within HeartbeatInterval.
			continue
		}

		switch msg := env.(type) {
		case model.UserMessageEnvelope:
			if e := mt.handleUserMessage(wc, m, msg); e != nil {
				return nil, e
			}
		case model.QueueResponseEnvelope:
			if e := mt.handleQueueResponse(wc, m, msg); e != nil {
				return nil, e
			}
		case model.WorkerResultEnvelope:
			if e := mt.handleWorkerResult(wc, m, msg); e != nil {
				return nil, e
			}
		default:
			mt.logUnhandled(wc, m, env)
			if e := mt.recordError(wc, m, "unhandled message type"); e != nil {
				return nil, e
			}
		}
		handled++
	}
}

// handleUserMessage implements the user_message arm of §4.6: classify
// (delegated to the injected Classifier, never an in-workflow LLM call),
// then answer, route to an existing task, or spawn a new worker task.
func (mt *MainThread) handleUserMessage(wc durable.WorkflowContext, m *model.MainThread, msg model.UserMessageEnvelope) error {
	var d classifier.Decision
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepClassify, Input: classifyInput{
		MainThread: m, ActiveTaskIDs: m.ActiveTaskIDs, Message: msg,
	}}, &d); e != nil {
		return e
	}

	switch d.Kind {
	case classifier.KindAnswer:
		return mt.createInboxItem(wc, m, "", model.QueueItemNotification, model.PriorityNormal, "mainloop", d.Answer)
	case classifier.KindRouteToTask:
		return mt.routeToTask(wc, m, d.TaskID, msg)
	case classifier.KindSpawnWorker:
		return mt.spawnWorker(wc, m, d.Spawn)
	default:
		return mt.createInboxItem(wc, m, "", model.QueueItemError, model.PriorityLow, "mainloop", "unrecognized classifier decision")
	}
}

// routeToTask forwards msg's text to an existing task, choosing the topic
// and envelope shape appropriate to the task's current wait state (§4.3):
// a task waiting on questions or plan review accepts the message as that
// wait's answer; a task at the ready_to_implement gate treats any message
// as the go-ahead; any other status can't accept free-form input mid-phase,
// so the message is instead surfaced as a review-priority inbox item.
func (mt *MainThread) routeToTask(wc durable.WorkflowContext, m *model.MainThread, taskID string, msg model.UserMessageEnvelope) error {
	var t *model.WorkerTask
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepGetWorkerTask, Input: getWorkerTaskInput{TaskID: taskID}}, &t); e != nil {
		return e
	}

	switch t.Status {
	case model.TaskStatusWaitingQuestions:
		return mt.sendToTask(wc, taskID, model.QuestionResponseEnvelope{
			TaskID: taskID, Action: model.QuestionResponseAnswer,
			Answers: map[string]string{"message": msg.Text}, AnsweredAt: msg.SentAt,
		})
	case model.TaskStatusWaitingPlanReview:
		cmd := forge.ParseCommand(msg.Text)
		switch cmd.Action {
		case forge.ActionApprove:
			return mt.sendToTask(wc, taskID, model.PlanResponseEnvelope{TaskID: taskID, Action: model.PlanResponseApprove})
		default:
			return mt.sendToTask(wc, taskID, model.PlanResponseEnvelope{TaskID: taskID, Action: model.PlanResponseRevise, Revision: msg.Text})
		}
	case model.TaskStatusReadyToImplement:
		return mt.sendToTask(wc, taskID, model.StartImplementationEnvelope{TaskID: taskID})
	default:
		return mt.createInboxItem(wc, m, taskID, model.QueueItemReview, model.PriorityNormal, "message for "+taskID, msg.Text)
	}
}

func (mt *MainThread) spawnWorker(wc durable.WorkflowContext, m *model.MainThread, spec classifier.SpawnSpec) error {
	var t *model.WorkerTask
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepCreateWorkerTask, Input: createWorkerTaskInput{
		MainThreadID: m.ID, UserID: m.UserID, Spawn: spec,
	}}, &t); e != nil {
		return e
	}
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepStartWorkerTask, Input: startWorkerTaskInput{TaskID: t.ID}}, nil); e != nil {
		return e
	}

	m.ActiveTaskIDs = append(m.ActiveTaskIDs, t.ID)
	m.LastActivityAt = wc.Now()
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepSaveMainThread, Input: m}, nil); e != nil {
		return e
	}
	return mt.createInboxItem(wc, m, t.ID, model.QueueItemNotification, model.PriorityNormal, "task started", "Started working on: "+spec.Description)
}

// handleQueueResponse implements the queue_response arm of §4.6: it records
// the human's response on the inbox row, then either dispatches a routing
// suggestion (treated exactly like a fresh user message) or forwards the
// response to the task it was raised for.
func (mt *MainThread) handleQueueResponse(wc durable.WorkflowContext, m *model.MainThread, msg model.QueueResponseEnvelope) error {
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepRespondToQueueItem, Input: respondToQueueItemInput{
		ID: msg.QueueItemID, Response: msg.Response, RespondedBy: msg.RespondedBy,
	}}, nil); e != nil {
		return e
	}

	var qi *model.QueueItem
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepGetQueueItem, Input: getQueueItemInput{ID: msg.QueueItemID}}, &qi); e != nil {
		return e
	}

	if qi.ItemType == model.QueueItemRoutingSuggestion {
		return mt.handleUserMessage(wc, m, model.UserMessageEnvelope{
			MessageID: msg.QueueItemID, UserID: m.UserID, Text: msg.Response, SentAt: wc.Now(),
		})
	}
	if qi.TaskID == "" {
		return nil
	}
	return mt.routeToTask(wc, m, qi.TaskID, model.UserMessageEnvelope{
		MessageID: msg.QueueItemID, UserID: m.UserID, Text: msg.Response, SentAt: wc.Now(),
	})
}

// handleWorkerResult implements the worker_result arm of §4.6: materialize
// an inbox entry for the terminal (or milestone) status, and drop the task
// from active_task_ids once it reaches a terminal status.
func (mt *MainThread) handleWorkerResult(wc durable.WorkflowContext, m *model.MainThread, msg model.WorkerResultEnvelope) error {
	itemType, priority, title := workerResultInboxShape(msg)
	if e := mt.createInboxItem(wc, m, msg.TaskID, itemType, priority, title, workerResultContent(msg)); e != nil {
		return e
	}

	if !msg.Status.Terminal() {
		return nil
	}
	m.ActiveTaskIDs = removeTaskID(m.ActiveTaskIDs, msg.TaskID)
	m.LastActivityAt = wc.Now()
	return wc.Step(wc.Context(), durable.StepRequest{Name: stepSaveMainThread, Input: m}, nil)
}

func workerResultInboxShape(msg model.WorkerResultEnvelope) (model.QueueItemType, model.QueueItemPriority, string) {
	switch msg.Status {
	case model.TaskStatusCompleted:
		return model.QueueItemNotification, model.PriorityNormal, "task completed"
	case model.TaskStatusFailed:
		return model.QueueItemError, model.PriorityHigh, "task failed"
	case model.TaskStatusCancelled:
		return model.QueueItemNotification, model.PriorityLow, "task cancelled"
	default:
		return model.QueueItemNotification, model.PriorityNormal, "task update"
	}
}

func workerResultContent(msg model.WorkerResultEnvelope) string {
	if msg.Error != "" {
		return msg.Error
	}
	if msg.PRURL != "" {
		return msg.PRURL
	}
	return string(msg.Status)
}

func (mt *MainThread) sendToTask(wc durable.WorkflowContext, taskID string, payload model.Envelope) error {
	return wc.Step(wc.Context(), durable.StepRequest{Name: stepSendToTask, Input: sendToTaskInput{
		TaskID: taskID, Topic: payload.Topic(), Payload: payload,
	}}, nil)
}

func (mt *MainThread) createInboxItem(wc durable.WorkflowContext, m *model.MainThread, taskID string, itemType model.QueueItemType, priority model.QueueItemPriority, title, content string) error {
	item := &model.QueueItem{
		MainThreadID: m.ID,
		TaskID:       taskID,
		UserID:       m.UserID,
		ItemType:     itemType,
		Priority:     priority,
		Title:        title,
		Content:      content,
		Status:       model.QueueItemPending,
		CreatedAt:    wc.Now(),
	}
	var created *model.QueueItem
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepCreateQueueItem, Input: createQueueItemInput{Item: item}}, &created); e != nil {
		return e
	}
	return wc.Step(wc.Context(), durable.StepRequest{Name: stepPublishEvent, Input: newInboxEvent(m.UserID, taskID, string(itemType), created.ID)}, nil)
}

func (mt *MainThread) recordError(wc durable.WorkflowContext, m *model.MainThread, reason string) error {
	return mt.createInboxItem(wc, m, "", model.QueueItemError, model.PriorityLow, "unrecognized event", reason)
}

func (mt *MainThread) logUnhandled(wc durable.WorkflowContext, m *model.MainThread, env model.Envelope) {
	topic := ""
	if env != nil {
		topic = env.Topic()
	}
	wc.Logger().Warn(wc.Context(), "mainthread: unhandled message type", "user_id", m.UserID, "topic", topic)
}

func removeTaskID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
