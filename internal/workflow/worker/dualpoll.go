package worker

import (
	"context"
	"time"

	"github.com/mainloopdev/mainloopd/internal/durable"
)

// dualPollResult reports which source produced the winning signal, for
// logging/metrics only — the caller already has the decoded value.
type dualPollResult int

const (
	dualPollTimeout dualPollResult = iota
	dualPollApp
	dualPollForge
)

// dualPoll implements the dual-source poll schedule in SPEC_FULL.md §4.3.5:
// it alternates between a bounded Recv on topic and a forge-side check,
// growing the poll interval geometrically until cfg.DualPollMax, until
// either source yields a signal or cfg.UserWaitTimeout elapses. checkForge
// is invoked once per iteration that times out Recv; it is responsible for
// querying the forge (through a Step) and returning a decoded T plus
// whether it found a valid signal. The first valid signal wins; dualPoll
// does not invoke checkForge again after Recv succeeds, and does not Recv
// again after checkForge succeeds.
func dualPoll[T any](wc durable.WorkflowContext, topic string, cfg Config, checkForge func(ctx context.Context) (T, bool, error)) (T, dualPollResult, error) {
	var zero T
	interval := cfg.DualPollInitial
	if interval <= 0 {
		interval = 10 * time.Second
	}
	deadline := wc.Now().Add(cfg.UserWaitTimeout)

	for wc.Now().Before(deadline) {
		remaining := deadline.Sub(wc.Now())
		wait := interval
		if wait > remaining {
			wait = remaining
		}

		var msg T
		ok, err := wc.Recv(wc.Context(), topic, wait, &msg)
		if err != nil {
			return zero, dualPollTimeout, err
		}
		if ok {
			return msg, dualPollApp, nil
		}

		if v, found, err := checkForge(wc.Context()); err != nil {
			return zero, dualPollTimeout, err
		} else if found {
			return v, dualPollForge, nil
		}

		interval = time.Duration(float64(interval) * cfg.DualPollMultiplier)
		if interval > cfg.DualPollMax {
			interval = cfg.DualPollMax
		}
	}
	return zero, dualPollTimeout, nil
}
