// Package queue names the two durable.Engine work queues the application
// schedules workflows on and the concurrency limits declared for each
// (§4.1, §5). This package is the single place their names and default
// limits are declared so workflow-start call sites never hardcode magic
// strings. The limits are declarations only: cmd/mainloopd configures no
// engine with a concurrency cap or a per-user partition.
package queue

// WorkerTasks is the global queue every worker-task workflow is started on.
// No concurrency cap is applied to it (see DefaultWorkerTaskConcurrency).
const WorkerTasks = "worker_tasks"

// MainThreads is the queue every main-thread workflow is started on. It is
// not partitioned by user_id; at most one running main-thread workflow per
// user (§3 MainThread lifecycle, §8 invariant 2) comes from
// MainThreadWorkflowID below.
const MainThreads = "main_threads"

// DefaultWorkerTaskConcurrency is the global cap on concurrently running
// worker-task workflows (§4.1, §5) absent operator configuration. No engine
// in this module reads it, so worker-task workflows run uncapped.
const DefaultWorkerTaskConcurrency = 3

// MainThreadPartitionConcurrency is the per-user limit of 1 on running
// main-thread workflows. No engine reads it; the limit holds through
// MainThreadWorkflowID.
const MainThreadPartitionConcurrency = 1

// MainThreadWorkflowID derives the durable workflow identifier a main
// thread's workflow is started under. Deriving it from userID (rather than
// the MainThread row's own id) is what lets durable.Engine.StartWorkflow's
// at-most-once-per-id semantics enforce "one running main-thread per user"
// without any extra locking (§3).
func MainThreadWorkflowID(userID string) string {
	return "main-thread-" + userID
}
