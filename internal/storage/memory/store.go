// Package memory implements storage.Store with mutex-guarded maps. It is
// cmd/mainloopd's default storage driver and backs every workflow unit test
// that does not need testcontainers-backed Postgres coverage.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/storage"
)

type store struct {
	mu          sync.RWMutex
	mainThreads map[string]*model.MainThread
	byUser      map[string]string // user_id -> main_thread id
	tasks       map[string]*model.WorkerTask
	queueItems  map[string]*model.QueueItem
}

// New constructs an in-memory storage.Store.
func New() storage.Store {
	return &store{
		mainThreads: make(map[string]*model.MainThread),
		byUser:      make(map[string]string),
		tasks:       make(map[string]*model.WorkerTask),
		queueItems:  make(map[string]*model.QueueItem),
	}
}

func (s *store) CreateMainThread(_ context.Context, mt *model.MainThread) error {
	if mt.ID == "" {
		mt.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *mt
	s.mainThreads[mt.ID] = &cp
	s.byUser[mt.UserID] = mt.ID
	return nil
}

func (s *store) GetMainThread(_ context.Context, id string) (*model.MainThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mt, ok := s.mainThreads[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *mt
	return &cp, nil
}

func (s *store) GetMainThreadByUser(_ context.Context, userID string) (*model.MainThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.mainThreads[id]
	return &cp, nil
}

func (s *store) UpdateMainThread(_ context.Context, mt *model.MainThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mainThreads[mt.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *mt
	s.mainThreads[mt.ID] = &cp
	return nil
}

func (s *store) CreateWorkerTask(_ context.Context, t *model.WorkerTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *store) GetWorkerTask(_ context.Context, id string) (*model.WorkerTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *store) ListWorkerTasksByMainThread(_ context.Context, mainThreadID string) ([]*model.WorkerTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WorkerTask
	for _, t := range s.tasks {
		if t.MainThreadID == mainThreadID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *store) UpdateWorkerTask(_ context.Context, t *model.WorkerTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *store) UpdateWorkerTaskStatus(_ context.Context, id string, fromStatus, toStatus model.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	if t.Status != fromStatus {
		return storage.ErrConditionFailed
	}
	t.Status = toStatus
	return nil
}

func (s *store) CreateQueueItem(_ context.Context, qi *model.QueueItem) error {
	if qi.ID == "" {
		qi.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *qi
	s.queueItems[qi.ID] = &cp
	return nil
}

func (s *store) GetQueueItem(_ context.Context, id string) (*model.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qi, ok := s.queueItems[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *qi
	return &cp, nil
}

func (s *store) ListPendingQueueItems(_ context.Context, userID string) ([]*model.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.QueueItem
	for _, qi := range s.queueItems {
		if qi.UserID == userID && qi.Status == model.QueueItemPending {
			cp := *qi
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *store) RespondToQueueItem(_ context.Context, id, response, respondedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qi, ok := s.queueItems[id]
	if !ok {
		return storage.ErrNotFound
	}
	if qi.Status != model.QueueItemPending {
		return storage.ErrConditionFailed
	}
	qi.Response = response
	qi.Status = model.QueueItemResponded
	now := time.Now()
	qi.RespondedAt = &now
	_ = respondedBy
	return nil
}

func (s *store) Close() error { return nil }
