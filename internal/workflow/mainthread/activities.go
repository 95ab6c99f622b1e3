package mainthread

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/mainloopdev/mainloopd/internal/classifier"
	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/queue"
	"github.com/mainloopdev/mainloopd/internal/storage"
	"github.com/mainloopdev/mainloopd/internal/workflow/worker"
)

// Step name constants. Every workflow Step call site in state.go names one
// of these; RegisterActivities binds each to its handler.
const (
	stepLoadOrCreateMainThread = "mainthread.loadOrCreateMainThread"
	stepSaveMainThread         = "mainthread.saveMainThread"
	stepClassify               = "mainthread.classify"
	stepCreateQueueItem        = "mainthread.createQueueItem"
	stepGetQueueItem           = "mainthread.getQueueItem"
	stepRespondToQueueItem     = "mainthread.respondToQueueItem"
	stepCreateWorkerTask       = "mainthread.createWorkerTask"
	stepStartWorkerTask        = "mainthread.startWorkerTask"
	stepGetWorkerTask          = "mainthread.getWorkerTask"
	stepSendToTask             = "mainthread.sendToTask"
	stepPublishEvent           = "mainthread.publishEvent"
)

// RegisterActivities binds every step name above to mt's handler and
// registers the main-thread workflow itself. Call once per process during
// startup, before the engine's workers start.
func (mt *MainThread) RegisterActivities(ctx context.Context, eng durable.Engine) error {
	mt.engine = eng
	acts := map[string]durable.ActivityFunc{
		stepLoadOrCreateMainThread: mt.actLoadOrCreateMainThread,
		stepSaveMainThread:         mt.actSaveMainThread,
		stepClassify:               mt.actClassify,
		stepCreateQueueItem:        mt.actCreateQueueItem,
		stepGetQueueItem:           mt.actGetQueueItem,
		stepRespondToQueueItem:     mt.actRespondToQueueItem,
		stepCreateWorkerTask:       mt.actCreateWorkerTask,
		stepStartWorkerTask:        mt.actStartWorkerTask,
		stepGetWorkerTask:          mt.actGetWorkerTask,
		stepSendToTask:             mt.actSendToTask,
		stepPublishEvent:           mt.actPublishEvent,
	}
	for name, fn := range acts {
		if err := eng.RegisterActivity(ctx, durable.ActivityDefinition{Name: name, Handler: fn}); err != nil {
			return errors.Wrapf(err, "register activity %q", name)
		}
	}
	return eng.RegisterWorkflow(ctx, durable.WorkflowDefinition{
		Name:    WorkflowName,
		Queue:   queue.MainThreads,
		Version: Version,
		Handler: mt.Workflow,
	})
}

type loadOrCreateMainThreadInput struct{ UserID string }

// actLoadOrCreateMainThread returns the user's existing MainThread row, or
// creates one the first time a given user_id's workflow runs — mirroring
// durable.Engine.StartWorkflow's at-most-once-per-id semantics on the
// storage side (§3).
func (mt *MainThread) actLoadOrCreateMainThread(ctx context.Context, input any) (any, error) {
	req := input.(loadOrCreateMainThreadInput)
	m, err := mt.Store.GetMainThreadByUser(ctx, req.UserID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(err, "load main thread for user %s", req.UserID)
	}
	m = &model.MainThread{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Status: model.MainThreadActive,
	}
	if err := mt.Store.CreateMainThread(ctx, m); err != nil {
		return nil, errors.Wrapf(err, "create main thread for user %s", req.UserID)
	}
	return m, nil
}

func (mt *MainThread) actSaveMainThread(ctx context.Context, input any) (any, error) {
	m := input.(*model.MainThread)
	if err := mt.Store.UpdateMainThread(ctx, m); err != nil {
		return nil, errors.Wrapf(err, "save main thread %s", m.ID)
	}
	return struct{}{}, nil
}

type classifyInput struct {
	MainThread    *model.MainThread
	ActiveTaskIDs []string
	Message       model.UserMessageEnvelope
}

func (mt *MainThread) actClassify(ctx context.Context, input any) (any, error) {
	req := input.(classifyInput)
	d, err := mt.Classifier.Classify(ctx, req.MainThread, req.ActiveTaskIDs, req.Message)
	if err != nil {
		return nil, errors.Wrap(err, "classify user message")
	}
	return d, nil
}

type createQueueItemInput struct {
	Item *model.QueueItem
}

func (mt *MainThread) actCreateQueueItem(ctx context.Context, input any) (any, error) {
	req := input.(createQueueItemInput)
	if req.Item.ID == "" {
		req.Item.ID = uuid.NewString()
	}
	if err := mt.Store.CreateQueueItem(ctx, req.Item); err != nil {
		return nil, errors.Wrapf(err, "create queue item for task %s", req.Item.TaskID)
	}
	return req.Item, nil
}

type getQueueItemInput struct{ ID string }

func (mt *MainThread) actGetQueueItem(ctx context.Context, input any) (any, error) {
	req := input.(getQueueItemInput)
	qi, err := mt.Store.GetQueueItem(ctx, req.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "get queue item %s", req.ID)
	}
	return qi, nil
}

type respondToQueueItemInput struct {
	ID, Response, RespondedBy string
}

func (mt *MainThread) actRespondToQueueItem(ctx context.Context, input any) (any, error) {
	req := input.(respondToQueueItemInput)
	if err := mt.Store.RespondToQueueItem(ctx, req.ID, req.Response, req.RespondedBy); err != nil {
		return nil, errors.Wrapf(err, "respond to queue item %s", req.ID)
	}
	return struct{}{}, nil
}

type createWorkerTaskInput struct {
	MainThreadID, UserID string
	Spawn                classifier.SpawnSpec
}

func (mt *MainThread) actCreateWorkerTask(ctx context.Context, input any) (any, error) {
	req := input.(createWorkerTaskInput)
	t := &model.WorkerTask{
		ID:           uuid.NewString(),
		MainThreadID: req.MainThreadID,
		UserID:       req.UserID,
		RepoURL:      req.Spawn.RepoURL,
		BaseBranch:   req.Spawn.BaseBranch,
		Description:  req.Spawn.Description,
		Prompt:       req.Spawn.Prompt,
		TaskType:     req.Spawn.TaskType,
		SkipPlan:     req.Spawn.SkipPlan,
		Status:       model.TaskStatusPending,
	}
	if err := mt.Store.CreateWorkerTask(ctx, t); err != nil {
		return nil, errors.Wrap(err, "create worker task")
	}
	return t, nil
}

type startWorkerTaskInput struct{ TaskID string }

func (mt *MainThread) actStartWorkerTask(ctx context.Context, input any) (any, error) {
	req := input.(startWorkerTaskInput)
	if mt.engine == nil {
		return nil, errors.New("mainthread: engine not set, call RegisterActivities first")
	}
	_, err := mt.engine.StartWorkflow(ctx, durable.WorkflowStartRequest{
		ID:       req.TaskID,
		Workflow: worker.WorkflowName,
		Queue:    queue.WorkerTasks,
		Input:    worker.Input{TaskID: req.TaskID},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "start worker task workflow %s", req.TaskID)
	}
	return struct{}{}, nil
}

type getWorkerTaskInput struct{ TaskID string }

func (mt *MainThread) actGetWorkerTask(ctx context.Context, input any) (any, error) {
	req := input.(getWorkerTaskInput)
	t, err := mt.Store.GetWorkerTask(ctx, req.TaskID)
	if err != nil {
		return nil, errors.Wrapf(err, "get worker task %s", req.TaskID)
	}
	return t, nil
}

type sendToTaskInput struct {
	TaskID  string
	Topic   string
	Payload any
}

func (mt *MainThread) actSendToTask(ctx context.Context, input any) (any, error) {
	req := input.(sendToTaskInput)
	if mt.engine == nil {
		return nil, errors.New("mainthread: engine not set, call RegisterActivities first")
	}
	if err := mt.engine.Send(ctx, req.TaskID, req.Topic, req.Payload); err != nil {
		return nil, errors.Wrapf(err, "send %s to task %s", req.Topic, req.TaskID)
	}
	return struct{}{}, nil
}

func (mt *MainThread) actPublishEvent(_ context.Context, input any) (any, error) {
	ev := input.(inboxEvent)
	if mt.Bus == nil {
		return struct{}{}, nil
	}
	_ = mt.Bus.Publish(context.Background(), ev)
	return struct{}{}, nil
}
