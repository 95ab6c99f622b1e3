package worker

import "fmt"

// errTimeout reports a §5 user-input wait exceeding its 24h budget, which
// §7 treats as a permanent task failure.
func errTimeout(phase string) error {
	return fmt.Errorf("worker: %s timed out waiting for a user decision", phase)
}

// errCIExhausted reports the CI verification loop exceeding
// MaxCIIterations fix attempts (§4.3.4 step 4c, §8 invariant 5).
func errCIExhausted(maxIterations int) error {
	return fmt.Errorf("worker: CI verification loop exceeded %d iterations", maxIterations)
}

// errInvalidPRURL reports an implement job result whose pr_url did not
// match the canonical forge PR URL shape (§4.3.4 step 3).
func errInvalidPRURL(raw string) error {
	return fmt.Errorf("worker: implement job returned unparseable pr_url %q", raw)
}
