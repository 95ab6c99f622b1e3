package temporal

import (
	"go.temporal.io/sdk/converter"

	"github.com/mainloopdev/mainloopd/internal/model"
)

// NewDataConverter returns a Temporal DataConverter for a client and its
// workers. Nothing in this module calls it; the engine's client uses
// Temporal's default converter. It is Temporal's standard composite (nil / byte
// slice / proto / proto-JSON / JSON) converter, unmodified: envelope
// decoding for the main-thread's any-topic Recv is handled in
// workflow_context.go's recvAny by selecting per-topic signal channels and
// decoding each into its own concrete envelope type directly, so the data
// converter itself never needs to special-case model.Envelope.
func NewDataConverter() converter.DataConverter {
	return converter.NewCompositeDataConverter(
		converter.NewNilPayloadConverter(),
		converter.NewByteSlicePayloadConverter(),
		converter.NewProtoPayloadConverter(),
		converter.NewProtoJSONPayloadConverter(),
		converter.NewJSONPayloadConverter(),
	)
}

// envelopeZeroValues maps a topic name to a constructor for a fresh pointer
// to its concrete envelope type, used by recvAny (workflow_context.go) to
// decode a signal payload arriving on an arbitrary topic's channel into the
// model.Envelope the main-thread event loop switches on.
var envelopeZeroValues = map[string]func() any{
	model.TopicUserMessage:         func() any { return &model.UserMessageEnvelope{} },
	model.TopicQueueResponse:       func() any { return &model.QueueResponseEnvelope{} },
	model.TopicWorkerResult:        func() any { return &model.WorkerResultEnvelope{} },
	model.TopicJobResult:           func() any { return &model.JobResultEnvelope{} },
	model.TopicQuestionResponse:    func() any { return &model.QuestionResponseEnvelope{} },
	model.TopicPlanResponse:        func() any { return &model.PlanResponseEnvelope{} },
	model.TopicStartImplementation: func() any { return &model.StartImplementationEnvelope{} },
	model.TopicCancel:              func() any { return &model.CancelEnvelope{} },
}

func derefEnvelope(p any) model.Envelope {
	switch v := p.(type) {
	case *model.UserMessageEnvelope:
		return *v
	case *model.QueueResponseEnvelope:
		return *v
	case *model.WorkerResultEnvelope:
		return *v
	case *model.JobResultEnvelope:
		return *v
	case *model.QuestionResponseEnvelope:
		return *v
	case *model.PlanResponseEnvelope:
		return *v
	case *model.StartImplementationEnvelope:
		return *v
	case *model.CancelEnvelope:
		return *v
	default:
		return nil
	}
}
