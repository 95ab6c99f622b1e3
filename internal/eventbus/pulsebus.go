package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/mainloopdev/mainloopd/internal/telemetry"
)

// streamMaxLen bounds how many entries goa.design/pulse keeps per user
// stream; older entries are trimmed so a user who never reconnects doesn't
// grow their stream unbounded.
const streamMaxLen = 10_000

// wireEnvelope is the JSON value published to a user's Pulse stream. Payload
// carries the full concrete event (json.Marshal of whatever taskEvent,
// inboxEvent, etc. the caller published) so a process other than the one
// that published it can reconstruct a usable Event.
type wireEnvelope struct {
	Type    string          `json:"type"`
	TaskID  string          `json:"task_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// wireEvent decodes a wireEnvelope back into an Event for cross-process
// subscribers. Its Payload method exposes the raw JSON for transports (e.g.
// a websocket handler) that only need to forward bytes to a client rather
// than type-switch on the original concrete event type.
type wireEvent struct {
	addr    Address
	kind    string
	payload json.RawMessage
}

func (e wireEvent) Address() Address         { return e.addr }
func (e wireEvent) Type() string             { return e.kind }
func (e wireEvent) Payload() json.RawMessage { return e.payload }

// redisBus mirrors every Publish onto a per-user goa.design/pulse stream in
// addition to the in-process bounded-queue fan-out bus already provides.
// Local subscribers (Subscribe) see events exactly like the in-memory Bus;
// the Pulse side channel exists for SubscribeRemote, used by a process that
// did not receive the original Publish call (a second mainloopd replica, or
// a client reconnecting after a gap) to replay recent history.
type redisBus struct {
	*bus
	redis   *redis.Client
	mu      sync.Mutex
	streams map[string]*streaming.Stream
}

// NewRedisBus constructs a Bus backed by redisClient. It fans out locally
// exactly like NewBus and additionally persists every event to a Pulse
// stream named "mainloop:events:<user_id>".
func NewRedisBus(redisClient *redis.Client, metrics telemetry.Metrics) Bus {
	return &redisBus{
		bus:     &bus{subs: make(map[*subscription]struct{}), metrics: metrics},
		redis:   redisClient,
		streams: make(map[string]*streaming.Stream),
	}
}

func streamName(userID string) string { return "mainloop:events:" + userID }

func (b *redisBus) streamFor(userID string) (*streaming.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[userID]; ok {
		return s, nil
	}
	s, err := streaming.NewStream(streamName(userID), b.redis, streamopts.WithStreamMaxLen(streamMaxLen))
	if err != nil {
		return nil, fmt.Errorf("eventbus: open pulse stream for %s: %w", userID, err)
	}
	b.streams[userID] = s
	return s, nil
}

// Publish delivers to local subscribers exactly like bus.Publish, then
// mirrors the event onto the publishing user's Pulse stream. A Pulse write
// failure is returned to the caller even though local delivery already
// happened, since local delivery alone cannot be undone and the caller
// still needs to know persistence failed.
func (b *redisBus) Publish(ctx context.Context, event Event) error {
	if err := b.bus.Publish(ctx, event); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	addr := event.Address()
	env, err := json.Marshal(wireEnvelope{Type: event.Type(), TaskID: addr.TaskID, Payload: payload})
	if err != nil {
		return fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	s, err := b.streamFor(addr.UserID)
	if err != nil {
		return err
	}
	_, err = s.Add(ctx, event.Type(), env)
	return err
}

// SubscribeRemote opens a Pulse sink (consumer group sinkName) on userID's
// stream and decodes events published by any process, including ones that
// happened before this call (Pulse streams retain up to streamMaxLen
// entries). It is the cross-process counterpart to Subscribe, which only
// ever sees events Published in the same process. Each event is acked
// through the sink as it is read; the returned close function stops the
// reader and closes the sink.
func (b *redisBus) SubscribeRemote(ctx context.Context, userID, sinkName string) (<-chan Event, func(), error) {
	stream, err := b.streamFor(userID)
	if err != nil {
		return nil, nil, err
	}
	sink, err := stream.NewSink(ctx, sinkName)
	if err != nil {
		return nil, nil, fmt.Errorf("eventbus: open pulse sink: %w", err)
	}

	out := make(chan Event, QueueDepth)
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		src := sink.Subscribe()
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-src:
				if !ok {
					return
				}
				var env wireEnvelope
				if err := json.Unmarshal(evt.Payload, &env); err != nil {
					continue
				}
				select {
				case out <- wireEvent{addr: Address{UserID: userID, TaskID: env.TaskID}, kind: env.Type, payload: env.Payload}:
				case <-runCtx.Done():
					return
				}
				_ = sink.Ack(runCtx, evt)
			}
		}
	}()

	closeFn := func() {
		cancel()
		_ = sink.Close(context.Background())
	}
	return out, closeFn, nil
}

// Close shuts down local fan-out. Pulse streams are left intact so a
// reconnecting subscriber can still replay recent history after this
// process exits.
func (b *redisBus) Close() error {
	return b.bus.Close()
}
