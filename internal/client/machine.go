// Package client implements the consumer side of the connection channel: a
// reconnection controller that keeps a logical "connected" view over a
// physical channel that can fail at any time, plus a polling fallback for
// the stretches where it is not connected.
package client

import "time"

// State of the logical connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed is terminal until the caller explicitly calls Connect
	// again; reaching it means the attempt budget is spent and the user
	// should be told to reload.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event fed into the machine.
type Event int

const (
	// EventConnect is an explicit connect or retry request from the caller.
	EventConnect Event = iota
	// EventConnected reports a successful dial.
	EventConnected
	// EventDialFailed reports a failed dial attempt.
	EventDialFailed
	// EventClosedNormal is an intentional shutdown of an established
	// connection; never followed by a reconnect.
	EventClosedNormal
	// EventClosedAbnormal is any other closure of an established
	// connection.
	EventClosedAbnormal
	// EventRetryDue fires when the scheduled backoff delay elapses.
	EventRetryDue
)

// Effect the controller must carry out after a transition.
type Effect int

const (
	EffectNone Effect = iota
	// EffectDial starts a connection attempt.
	EffectDial
	// EffectScheduleRetry arms a timer for the returned delay.
	EffectScheduleRetry
	// EffectGiveUp tells the controller to surface a terminal failure.
	EffectGiveUp
)

// Backoff parameters for reconnect scheduling.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

var DefaultBackoff = Backoff{
	Base:        time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 10,
}

// Delay returns the wait before retry number n (1-based): Base doubled per
// consecutive failure, capped at Max.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Machine is the pure reconnect state machine. Step has no side effects;
// timers, sockets and callbacks live in the Controller, which makes the
// backoff math and cancellation testable without a real socket.
type Machine struct {
	State State
	// Attempts counts consecutive failures since the last successful
	// connection.
	Attempts int
	Backoff  Backoff
}

func NewMachine(b Backoff) Machine {
	return Machine{State: StateDisconnected, Backoff: b}
}

// Step applies one event and returns the next machine, the effect to carry
// out, and the retry delay when the effect is EffectScheduleRetry.
func (m Machine) Step(ev Event) (Machine, Effect, time.Duration) {
	switch m.State {
	case StateDisconnected:
		switch ev {
		case EventConnect:
			m.State = StateConnecting
			m.Attempts = 0
			return m, EffectDial, 0
		case EventRetryDue:
			m.State = StateConnecting
			return m, EffectDial, 0
		}

	case StateConnecting:
		switch ev {
		case EventConnected:
			m.State = StateConnected
			m.Attempts = 0
			return m, EffectNone, 0
		case EventDialFailed:
			return m.fail()
		}

	case StateConnected:
		switch ev {
		case EventClosedNormal:
			m.State = StateDisconnected
			m.Attempts = 0
			return m, EffectNone, 0
		case EventClosedAbnormal:
			return m.fail()
		}

	case StateFailed:
		if ev == EventConnect {
			m.State = StateConnecting
			m.Attempts = 0
			return m, EffectDial, 0
		}
	}

	return m, EffectNone, 0
}

func (m Machine) fail() (Machine, Effect, time.Duration) {
	m.Attempts++
	if m.Attempts > m.Backoff.MaxAttempts {
		m.State = StateFailed
		return m, EffectGiveUp, 0
	}

	m.State = StateDisconnected
	return m, EffectScheduleRetry, m.Backoff.Delay(m.Attempts)
}
