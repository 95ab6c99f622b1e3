package branchname_test

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/mainloopdev/mainloopd/internal/branchname"
	"github.com/mainloopdev/mainloopd/internal/model"
)

func TestDeriveTableDriven(t *testing.T) {
	issue42 := 42
	cases := []struct {
		name        string
		issueNumber *int
		title       string
		taskType    model.TaskType
		want        string
	}{
		{"feature with issue", &issue42, "Add dark mode toggle", model.TaskTypeFeature, "feature/42-add-dark-mode-toggle"},
		{"bugfix prefix", &issue42, "Crash on empty input", model.TaskTypeBugfix, "fix/42-crash-empty-input"},
		{"no issue number", nil, "Refactor auth module", model.TaskTypeRefactor, "refactor/refactor-auth-module"},
		{"punctuation only title", &issue42, "???", model.TaskTypeChore, "chore/42-untitled"},
		{"stop words removed", &issue42, "Fix the bug in the login form", model.TaskTypeBugfix, "fix/42-fix-bug-login-form"},
		{"stop words only title", &issue42, "the a an", model.TaskTypeChore, "chore/42-untitled"},
		{"more than eight words", &issue42, "one two three four five six seven eight nine ten", model.TaskTypeFeature, "feature/42-one-two-three-four-five-six-seven-eight"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := branchname.Derive(c.issueNumber, c.title, c.taskType)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same inputs always derive the same branch name", prop.ForAll(
		func(issueNumber int, title string, taskTypeIdx int) bool {
			taskTypes := []model.TaskType{
				model.TaskTypeFeature, model.TaskTypeBugfix, model.TaskTypeRefactor,
				model.TaskTypeDocs, model.TaskTypeTest, model.TaskTypeChore,
			}
			tt := taskTypes[taskTypeIdx%len(taskTypes)]
			a := branchname.Derive(&issueNumber, title, tt)
			b := branchname.Derive(&issueNumber, title, tt)
			return a == b
		},
		gen.Int(), gen.AnyString(), gen.IntRange(0, 100),
	))

	properties.Property("derived branch name never contains whitespace or slashes beyond the prefix separator", prop.ForAll(
		func(issueNumber int, title string) bool {
			name := branchname.Derive(&issueNumber, title, model.TaskTypeFeature)
			rest := strings.TrimPrefix(name, "feature/")
			return !strings.ContainsAny(rest, " \t\n/")
		},
		gen.Int(), gen.AnyString(),
	))

	properties.TestingRun(t)
}
