package model

import "time"

// Envelope is the sealed interface every topic payload implements. Topic
// names double as the durable.Engine signal-channel name a workflow Recvs
// on (§4.2).
type Envelope interface {
	Topic() string
}

const (
	TopicUserMessage        = "user_message"
	TopicQueueResponse      = "queue_response"
	TopicWorkerResult       = "worker_result"
	TopicJobResult          = "job_result"
	TopicQuestionResponse   = "question_response"
	TopicPlanResponse       = "plan_response"
	TopicStartImplementation = "start_implementation"
	TopicCancel             = "cancel"
)

// UserMessageEnvelope carries a free-form chat message into the main-thread
// workflow's event loop.
type UserMessageEnvelope struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

func (UserMessageEnvelope) Topic() string { return TopicUserMessage }

// QueueResponseEnvelope carries a human's answer to a QueueItem back into
// whichever workflow raised it.
type QueueResponseEnvelope struct {
	QueueItemID string `json:"queue_item_id"`
	Response    string `json:"response"`
	RespondedBy string `json:"responded_by"`
}

func (QueueResponseEnvelope) Topic() string { return TopicQueueResponse }

// WorkerResultEnvelope carries a worker workflow's terminal outcome back to
// the main thread that spawned it.
type WorkerResultEnvelope struct {
	TaskID  string         `json:"task_id"`
	Status  TaskStatus     `json:"status"`
	PRURL   string         `json:"pr_url,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (WorkerResultEnvelope) Topic() string { return TopicWorkerResult }

// JobResultEnvelope is the executor-job callback payload reported exactly
// once by the sandbox adapter's HTTP callback route (§4.5, §6).
type JobResultEnvelope struct {
	TaskID    string         `json:"task_id"`
	JobID     string         `json:"job_id"`
	Mode      string         `json:"mode"`
	Iteration int            `json:"iteration"`
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (JobResultEnvelope) Topic() string { return TopicJobResult }

// QuestionResponseAction enumerates §4.2's question_response action values.
type QuestionResponseAction string

const (
	QuestionResponseAnswer QuestionResponseAction = "answer"
	QuestionResponseCancel QuestionResponseAction = "cancel"
)

// QuestionResponseEnvelope carries the user's answers to the planning
// phase's clarifying questions back into the worker workflow.
type QuestionResponseEnvelope struct {
	TaskID     string                  `json:"task_id"`
	Action     QuestionResponseAction  `json:"action"`
	Answers    map[string]string       `json:"answers"`
	AnsweredAt time.Time               `json:"answered_at"`
}

func (QuestionResponseEnvelope) Topic() string { return TopicQuestionResponse }

// PlanResponseAction enumerates §4.2's plan_response action values.
type PlanResponseAction string

const (
	PlanResponseApprove PlanResponseAction = "approve"
	PlanResponseCancel  PlanResponseAction = "cancel"
	PlanResponseRevise  PlanResponseAction = "revise"
)

// PlanResponseEnvelope carries the user's plan-review verdict (approve,
// cancel, or revise) back into the worker workflow.
type PlanResponseEnvelope struct {
	TaskID   string              `json:"task_id"`
	Action   PlanResponseAction  `json:"action"`
	Revision string              `json:"revision,omitempty"`
}

func (PlanResponseEnvelope) Topic() string { return TopicPlanResponse }

// StartImplementationEnvelope releases a plan-approved task waiting at the
// ready_to_implement gate into the implementation phase. A SkipPlan task
// enters implementation without it.
type StartImplementationEnvelope struct {
	TaskID string `json:"task_id"`
}

func (StartImplementationEnvelope) Topic() string { return TopicStartImplementation }

// CancelEnvelope is the payload of a cancellation request for a running
// workflow (§5), addressed to the target workflow ID rather than broadcast
// on a shared topic. Nothing in this module sends one, and no workflow
// receives TopicCancel.
type CancelEnvelope struct {
	Reason    string `json:"reason"`
	Requestor string `json:"requestor"`
}

func (CancelEnvelope) Topic() string { return TopicCancel }
