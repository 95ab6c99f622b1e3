// Package fake provides a deterministic in-memory double for
// internal/sandbox, used by worker-workflow unit tests that need to drive
// the implementation phase without a real executor.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mainloopdev/mainloopd/internal/sandbox"
)

// Sandbox is a deterministic test double implementing both sandbox.Sandbox
// and sandbox.ExecutorJob. Launch records each call with a new idempotency
// tuple so tests can assert on the sequence of modes/iterations a workflow
// drove; a relaunch with a tuple already seen returns the original
// JobHandle and is not recorded again.
type Sandbox struct {
	mu sync.Mutex

	provisioned map[string]sandbox.Handle // taskID -> handle
	destroyed   map[string]bool
	launches    map[string]sandbox.JobHandle // idempotency key -> handle
	Calls       []sandbox.LaunchRequest
}

// New constructs an empty fake Sandbox/ExecutorJob double.
func New() *Sandbox {
	return &Sandbox{
		provisioned: make(map[string]sandbox.Handle),
		destroyed:   make(map[string]bool),
		launches:    make(map[string]sandbox.JobHandle),
	}
}

func (s *Sandbox) Provision(_ context.Context, req sandbox.ProvisionRequest) (sandbox.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.provisioned[req.TaskID]; ok {
		return h, nil
	}
	h := sandbox.Handle{SandboxID: "sbx-" + req.TaskID}
	s.provisioned[req.TaskID] = h
	return h, nil
}

func (s *Sandbox) Destroy(_ context.Context, h sandbox.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed[h.SandboxID] = true
	return nil
}

func idempotencyKey(req sandbox.LaunchRequest) string {
	return fmt.Sprintf("%s|%s|%d", req.TaskID, req.Mode, req.Iteration)
}

func (s *Sandbox) Launch(_ context.Context, req sandbox.LaunchRequest) (sandbox.JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := idempotencyKey(req)
	if h, ok := s.launches[key]; ok {
		return h, nil
	}
	h := sandbox.JobHandle{JobID: uuid.NewString()}
	s.launches[key] = h
	s.Calls = append(s.Calls, req)
	return h, nil
}

// Destroyed reports whether Destroy was called for sandboxID.
func (s *Sandbox) Destroyed(sandboxID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed[sandboxID]
}
