package monitor

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/looplab/fsm"

	"github.com/elder-voice/reliability/internal/status"
)

// Availability states of a dependency.
const (
	StateAvailable   = "available"
	StateUnavailable = "unavailable"
)

const (
	eventProbeSucceeded = "probe_succeeded"
	eventProbeFailed    = "probe_failed"
)

// dependency is the scheduler-side bookkeeping for one registered dependency.
// Only the goroutine that set inFlight may touch machine and sequence.
type dependency struct {
	id      string
	baseURL string

	machine  *fsm.FSM
	sequence uint64
	inFlight atomic.Bool
}

func newDependency(id, baseURL string, initial status.ServiceStatus) *dependency {
	start := StateAvailable
	if !initial.IsAvailable {
		start = StateUnavailable
	}

	return &dependency{
		id:      id,
		baseURL: baseURL,
		machine: fsm.NewFSM(
			start,
			fsm.Events{
				{Name: eventProbeSucceeded, Src: []string{StateAvailable, StateUnavailable}, Dst: StateAvailable},
				{Name: eventProbeFailed, Src: []string{StateAvailable, StateUnavailable}, Dst: StateUnavailable},
			},
			fsm.Callbacks{},
		),
	}
}

// transition applies a probe outcome and reports whether the state changed.
func (d *dependency) transition(ctx context.Context, probeOK bool) (bool, error) {
	event := eventProbeFailed
	if probeOK {
		event = eventProbeSucceeded
	}

	err := d.machine.Event(ctx, event)
	if err == nil {
		return true, nil
	}

	var same fsm.NoTransitionError
	if errors.As(err, &same) {
		return false, nil
	}
	return false, err
}

func (d *dependency) state() string {
	return d.machine.Current()
}
