// Package session tracks the lifecycle of a sampling session. A session
// moves between Idle, Active and Paused: operator commands start and stop
// it, link connect/disconnect events pause and resume it, and a configured
// duration limit expires it automatically on the idle-loop tick.
//
// Sampling pauses while the operator link is connected so that storage
// writes never interleave with control-protocol traffic, and resumes
// unattended once the operator disconnects.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/trackflow/trackflow/pkg/errors"
)

// State is the collection state of the tracker.
type State int

const (
	// Idle means no session is running and no records are sampled.
	Idle State = iota
	// Active means records are sampled on the configured interval.
	Active
	// Paused means a session is running but sampling is suspended
	// while the operator link is connected.
	Paused
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Paused:
		return "PAUSED"
	default:
		return "IDLE"
	}
}

// Bounds and defaults for the session parameters. Interval values outside
// the bounds are clamped rather than rejected; duration values outside the
// bounds are rejected so an operator typo cannot silently schedule a
// day-long session.
const (
	DefaultDuration = 5 * time.Minute
	MinDuration     = 1 * time.Minute
	MaxDuration     = 1440 * time.Minute

	DefaultInterval = 10 * time.Second
	MinInterval     = 1 * time.Second
	MaxInterval     = 5 * time.Minute

	// QuickTrack preset: dense sampling for a short verification run.
	QuickTrackInterval = 2 * time.Second
	QuickTrackDuration = 10 * time.Minute
)

// Summary describes a finished session for reporting and history.
type Summary struct {
	ID        uuid.UUID
	StartedAt time.Time
	StoppedAt time.Time
	Expired   bool
}

// Machine is the session state machine. It is not safe for concurrent
// use; the dispatcher drives it from a single logical thread of control.
type Machine struct {
	state      State
	linkUp     bool
	id         uuid.UUID
	startedAt  time.Time
	lastSample time.Time
	duration   time.Duration
	interval   time.Duration
}

// New returns an idle machine with the default duration and interval.
func New() *Machine {
	return &Machine{
		state:    Idle,
		duration: DefaultDuration,
		interval: DefaultInterval,
	}
}

// State reports the current collection state.
func (m *Machine) State() State { return m.state }

// ID reports the identifier of the running session, or uuid.Nil when idle.
func (m *Machine) ID() uuid.UUID { return m.id }

// Duration reports the configured session duration limit.
func (m *Machine) Duration() time.Duration { return m.duration }

// Interval reports the configured sampling interval.
func (m *Machine) Interval() time.Duration { return m.interval }

// StartedAt reports when the running session began. Zero when idle.
func (m *Machine) StartedAt() time.Time { return m.startedAt }

// Elapsed reports how long the running session has been alive.
func (m *Machine) Elapsed(now time.Time) time.Duration {
	if m.state == Idle {
		return 0
	}
	return now.Sub(m.startedAt)
}

// Remaining reports how much of the duration budget is left. Never
// negative.
func (m *Machine) Remaining(now time.Time) time.Duration {
	if m.state == Idle {
		return 0
	}
	if left := m.duration - now.Sub(m.startedAt); left > 0 {
		return left
	}
	return 0
}

// Start begins a new session at now. Returns false if a session is
// already running; the running session is untouched. A session started
// while the operator link is up begins Paused and activates on
// disconnect, so sampling never runs during a link session.
func (m *Machine) Start(now time.Time) bool {
	if m.state != Idle {
		return false
	}
	m.state = Active
	if m.linkUp {
		m.state = Paused
	}
	m.id = uuid.New()
	m.startedAt = now
	m.lastSample = time.Time{}
	return true
}

// Stop ends the running session, from Active or Paused. Returns the
// finished session's summary and false if nothing was running.
func (m *Machine) Stop(now time.Time) (Summary, bool) {
	if m.state == Idle {
		return Summary{}, false
	}
	s := Summary{ID: m.id, StartedAt: m.startedAt, StoppedAt: now}
	m.reset()
	return s, true
}

// LinkConnected suspends sampling while the operator link is up.
// Returns true if the machine moved from Active to Paused.
func (m *Machine) LinkConnected() bool {
	m.linkUp = true
	if m.state != Active {
		return false
	}
	m.state = Paused
	return true
}

// LinkDisconnected resumes a paused session. Returns true if the
// machine moved from Paused back to Active.
func (m *Machine) LinkDisconnected() bool {
	m.linkUp = false
	if m.state != Paused {
		return false
	}
	m.state = Active
	return true
}

// Tick applies the duration limit. If the session is Active and its
// duration has elapsed since the start timestamp, the session ends and
// its summary is returned with Expired set. Paused sessions do not
// expire; the operator is attached and will stop them explicitly.
func (m *Machine) Tick(now time.Time) (Summary, bool) {
	if m.state != Active || now.Sub(m.startedAt) < m.duration {
		return Summary{}, false
	}
	s := Summary{ID: m.id, StartedAt: m.startedAt, StoppedAt: now, Expired: true}
	m.reset()
	return s, true
}

// ShouldSample reports whether a new record is due and, when it is,
// advances the sampling clock. Only an Active session samples.
func (m *Machine) ShouldSample(now time.Time) bool {
	if m.state != Active {
		return false
	}
	if !m.lastSample.IsZero() && now.Sub(m.lastSample) < m.interval {
		return false
	}
	m.lastSample = now
	return true
}

// SetDuration configures the session duration limit in whole minutes.
// Values outside 1..1440 are rejected.
func (m *Machine) SetDuration(minutes int) error {
	d := time.Duration(minutes) * time.Minute
	if d < MinDuration || d > MaxDuration {
		return errors.BadParameter("DT", "duration must be 1-1440 minutes")
	}
	m.duration = d
	return nil
}

// SetInterval configures the sampling interval in milliseconds and
// returns the applied value after clamping to the supported range.
func (m *Machine) SetInterval(millis int) time.Duration {
	d := time.Duration(millis) * time.Millisecond
	if d < MinInterval {
		d = MinInterval
	}
	if d > MaxInterval {
		d = MaxInterval
	}
	m.interval = d
	return d
}

// QuickTrack applies the dense preset and starts a session in one step.
// Returns false if a session is already running.
func (m *Machine) QuickTrack(now time.Time) bool {
	if m.state != Idle {
		return false
	}
	m.interval = QuickTrackInterval
	m.duration = QuickTrackDuration
	return m.Start(now)
}

func (m *Machine) reset() {
	m.state = Idle
	m.id = uuid.Nil
	m.startedAt = time.Time{}
	m.lastSample = time.Time{}
}
