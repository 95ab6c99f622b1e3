// Package branchname derives the git branch name a worker task's
// implementation work lands on. Derivation is a pure function of
// (issue number, title, task type): given the same three inputs it always
// returns the same branch name, so the worker workflow can recompute it on
// replay without persisting it as a separate durable step.
package branchname

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mainloopdev/mainloopd/internal/model"
)

// MaxSlugLength bounds the title-derived portion of the branch name so the
// full name stays well under git's and most forges' practical ref-name
// limits even for a very long issue title.
const MaxSlugLength = 50

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	trimHyphen = regexp.MustCompile(`^-+|-+$`)
)

// prefixFor maps a TaskType to the conventional branch-name prefix.
func prefixFor(t model.TaskType) string {
	switch t {
	case model.TaskTypeBugfix:
		return "fix"
	case model.TaskTypeRefactor:
		return "refactor"
	case model.TaskTypeDocs:
		return "docs"
	case model.TaskTypeTest:
		return "test"
	case model.TaskTypeChore:
		return "chore"
	case model.TaskTypeFeature:
		return "feature"
	default:
		return "feature"
	}
}

// MaxSlugWords caps the slug to its first N remaining words after stop-word
// removal (spec.md:187 step 4).
const MaxSlugWords = 8

// stopWords are dropped from the slug before the word cap is applied
// (spec.md:186 step 3).
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
}

// Slugify lowercases s, replaces every run of non-alphanumeric characters
// with a single hyphen, removes stop words, caps the result to its first
// MaxSlugWords remaining words, and truncates the joined result to at most
// MaxSlugLength characters at a word boundary (a first word longer than
// MaxSlugLength is cut at MaxSlugLength). An empty or
// all-punctuation/stop-word input yields "untitled".
func Slugify(s string) string {
	lower := strings.ToLower(s)
	slug := nonAlnum.ReplaceAllString(lower, "-")
	slug = trimHyphen.ReplaceAllString(slug, "")
	if slug == "" {
		return "untitled"
	}

	words := strings.Split(slug, "-")
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" || stopWords[w] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return "untitled"
	}
	if len(kept) > MaxSlugWords {
		kept = kept[:MaxSlugWords]
	}
	slug = strings.Join(kept, "-")

	if len(slug) > MaxSlugLength {
		cut := slug[:MaxSlugLength]
		if slug[MaxSlugLength] != '-' {
			if i := strings.LastIndex(cut, "-"); i > 0 {
				cut = cut[:i]
			}
		}
		slug = trimHyphen.ReplaceAllString(cut, "")
	}
	if slug == "" {
		return "untitled"
	}
	return slug
}

// Derive returns the deterministic branch name for a worker task. When
// issueNumber is non-nil the branch is namespaced by issue number
// (<prefix>/<n>-<slug>) so it correlates unambiguously with the forge issue
// that spawned the task; otherwise it falls back to a title-only slug.
func Derive(issueNumber *int, title string, taskType model.TaskType) string {
	prefix := prefixFor(taskType)
	slug := Slugify(title)
	if issueNumber == nil {
		return prefix + "/" + slug
	}
	return prefix + "/" + strconv.Itoa(*issueNumber) + "-" + slug
}
