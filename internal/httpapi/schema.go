package httpapi

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// taskResultSchemaDoc validates the `result` object a runner posts back
// through handleTaskComplete (§6 task-complete contract). Every mode's
// output is a subset of these properties; additionalProperties stays true
// since a mode is free to report extra fields a schema revision hasn't
// caught up with yet.
const taskResultSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "plan_text": {"type": "string"},
    "questions": {"type": "array"},
    "pr_url": {"type": "string"},
    "review_summary": {"type": "string"}
  },
  "additionalProperties": true
}`

var (
	taskResultSchemaOnce sync.Once
	taskResultSchema     *jsonschema.Schema
	taskResultSchemaErr  error
)

func compiledTaskResultSchema() (*jsonschema.Schema, error) {
	taskResultSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(taskResultSchemaDoc), &doc); err != nil {
			taskResultSchemaErr = fmt.Errorf("httpapi: unmarshal task result schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("task_result.json", doc); err != nil {
			taskResultSchemaErr = fmt.Errorf("httpapi: add task result schema resource: %w", err)
			return
		}
		taskResultSchema, taskResultSchemaErr = c.Compile("task_result.json")
	})
	return taskResultSchema, taskResultSchemaErr
}

// validateTaskResult rejects a runner's result payload before it is
// forwarded to the worker workflow as a job_result Send. A nil result
// (failed jobs usually carry none) is always valid.
func validateTaskResult(result map[string]any) error {
	if result == nil {
		return nil
	}
	schema, err := compiledTaskResultSchema()
	if err != nil {
		return err
	}
	// jsonschema validates against a decoded document, not a typed struct;
	// round-trip through JSON so map[string]any keys come out exactly as
	// the schema compiler expects (nested time.Time/etc. values normalized
	// to plain JSON types).
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("httpapi: marshal task result: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("httpapi: unmarshal task result: %w", err)
	}
	return schema.Validate(doc)
}
