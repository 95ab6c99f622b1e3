// Package fake provides a deterministic rule-based internal/classifier
// implementation: no LLM call, no network I/O, just the keyword grammar
// below. It is the default Classifier wired in cmd/mainloopd until a real
// chat-handling collaborator is plugged in, and the one unit tests drive
// the main-thread workflow against.
package fake

import (
	"context"
	"strings"

	"github.com/mainloopdev/mainloopd/internal/classifier"
	"github.com/mainloopdev/mainloopd/internal/model"
)

// Classifier implements classifier.Classifier with a small anchored
// grammar:
//   - a message starting with "/new " spawns a worker task, the remainder
//     of the line becoming both Description and Prompt;
//   - a message starting with "/task <id> " routes to that task id
//     verbatim, regardless of whether it is active;
//   - anything else routes to the single active task if there is exactly
//     one, and otherwise falls back to a canned answer.
type Classifier struct {
	// DefaultRepoURL/DefaultBaseBranch/DefaultTaskType seed SpawnSpec when a
	// "/new" message doesn't carry enough information on its own.
	DefaultRepoURL    string
	DefaultBaseBranch string
	DefaultTaskType   model.TaskType
}

// New constructs a Classifier with sane feature/main defaults.
func New(defaultRepoURL string) *Classifier {
	return &Classifier{
		DefaultRepoURL:    defaultRepoURL,
		DefaultBaseBranch: "main",
		DefaultTaskType:   model.TaskTypeFeature,
	}
}

func (c *Classifier) Classify(_ context.Context, _ *model.MainThread, activeTaskIDs []string, msg model.UserMessageEnvelope) (classifier.Decision, error) {
	text := strings.TrimSpace(msg.Text)

	if rest, ok := cutPrefix(text, "/new "); ok {
		rest = strings.TrimSpace(rest)
		return classifier.Decision{
			Kind: classifier.KindSpawnWorker,
			Spawn: classifier.SpawnSpec{
				RepoURL:     c.DefaultRepoURL,
				BaseBranch:  c.DefaultBaseBranch,
				Description: rest,
				Prompt:      rest,
				TaskType:    c.DefaultTaskType,
			},
		}, nil
	}

	if rest, ok := cutPrefix(text, "/task "); ok {
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			return classifier.Decision{Kind: classifier.KindRouteToTask, TaskID: fields[0]}, nil
		}
	}

	if len(activeTaskIDs) == 1 {
		return classifier.Decision{Kind: classifier.KindRouteToTask, TaskID: activeTaskIDs[0]}, nil
	}

	return classifier.Decision{
		Kind:   classifier.KindAnswer,
		Answer: "I don't have a single active task to route this to. Say \"/new <description>\" to start one, or \"/task <id> ...\" to target a specific task.",
	}, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix)) {
		return "", false
	}
	return s[len(prefix):], true
}
