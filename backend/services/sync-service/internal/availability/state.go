// Package availability recovers readings from devices that the vendor reports as asleep.
package availability

import "fmt"

// State is a step of the wake/poll cycle for one device in one run.
type State int

const (
	StateUnknown State = iota
	StateWakeRequested
	StatePolling
	StateAwake
	StateStillAsleep
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateWakeRequested:
		return "wake_requested"
	case StatePolling:
		return "polling"
	case StateAwake:
		return "awake"
	case StateStillAsleep:
		return "still_asleep"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the run is finished with this device.
func (s State) Terminal() bool {
	return s == StateAwake || s == StateStillAsleep
}

// Event drives the machine.
type Event int

const (
	// EventAsleep: the primary data call answered with the vendor's asleep status.
	EventAsleep Event = iota
	EventWakeSent
	EventWakeFailed
	// EventPollPlausible: a poll returned a non-zero primary metric.
	EventPollPlausible
	EventPollEmpty
)

func (e Event) String() string {
	switch e {
	case EventAsleep:
		return "asleep"
	case EventWakeSent:
		return "wake_sent"
	case EventWakeFailed:
		return "wake_failed"
	case EventPollPlausible:
		return "poll_plausible"
	case EventPollEmpty:
		return "poll_empty"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Machine tracks the wake cycle. The zero value is not usable; call NewMachine.
type Machine struct {
	state       State
	attempt     int
	maxAttempts int
}

// NewMachine starts in StateUnknown allowing maxAttempts polls.
func NewMachine(maxAttempts int) *Machine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollAttempts
	}
	return &Machine{state: StateUnknown, maxAttempts: maxAttempts}
}

func (m *Machine) State() State { return m.state }

// Attempt is the number of polls issued so far.
func (m *Machine) Attempt() int { return m.attempt }

// Fire applies ev and returns the new state. Events that do not apply to the
// current state are rejected and leave the machine unchanged.
func (m *Machine) Fire(ev Event) (State, error) {
	state, attempt, ok := Next(m.state, m.attempt, m.maxAttempts, ev)
	if !ok {
		return m.state, fmt.Errorf("availability: event %s not allowed in state %s", ev, m.state)
	}
	m.state, m.attempt = state, attempt
	return state, nil
}

// Next is the transition table. It returns the state and poll count after ev;
// ok is false when ev does not apply to state.
func Next(state State, attempt, maxAttempts int, ev Event) (State, int, bool) {
	switch state {
	case StateUnknown:
		if ev == EventAsleep {
			return StateWakeRequested, attempt, true
		}
	case StateWakeRequested:
		switch ev {
		case EventWakeSent:
			return StatePolling, attempt, true
		case EventWakeFailed:
			return StateStillAsleep, attempt, true
		}
	case StatePolling:
		switch ev {
		case EventPollPlausible:
			return StateAwake, attempt + 1, true
		case EventPollEmpty:
			attempt++
			if attempt >= maxAttempts {
				return StateStillAsleep, attempt, true
			}
			return StatePolling, attempt, true
		}
	}
	return state, attempt, false
}
