package breaker

import (
	"time"

	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// State is the breaker standing.
type State uint16

const (
	StateClosed State = iota
	StateOpen
	StateDailyHalt
	StateCritical
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateDailyHalt:
		return "daily_halt"
	case StateCritical:
		return "critical_intervention"
	default:
		return "unknown"
	}
}

// Config tunes the trip thresholds.
type Config struct {
	// WindowSize is the ring size W.
	WindowSize int
	// WindowThreshold trips the breaker once failures within the window
	// reach it.
	WindowThreshold int
	// ConsecutiveThreshold trips the breaker on an unbroken failure run.
	ConsecutiveThreshold int
	// Cooldown is how long the breaker stays open before closing again.
	Cooldown time.Duration
	// SessionTripLimit escalates to a daily halt once reached.
	SessionTripLimit int
}

func DefaultConfig() Config {
	return Config{
		WindowSize:           10,
		WindowThreshold:      5,
		ConsecutiveThreshold: 3,
		Cooldown:             15 * time.Minute,
		SessionTripLimit:     3,
	}
}

// Breaker gates order flow on recent operation outcomes. Not safe for
// concurrent use; it lives on the control loop.
//
// Closed -> Open on threshold breach; Open -> Closed after cooldown.
// Three trips in one session escalate to DailyHalt, cleared at the next
// calendar day. Critical intervention is entered only from a failed
// emergency close and cleared only by an operator acknowledgment.
type Breaker struct {
	cfg    Config
	window *Window

	state       State
	openedAt    time.Time
	sessionDate string // YYYY-MM-DD
	trips       int

	// onTrip is called on every Closed -> Open transition so the engine can
	// request an emergency close of whatever is held.
	onTrip func()
}

func New(cfg Config) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{
		cfg:    cfg,
		window: NewWindow(cfg.WindowSize),
	}
}

// OnTrip registers the emergency-close hook.
func (b *Breaker) OnTrip(fn func()) { b.onTrip = fn }

// State returns the current standing.
func (b *Breaker) State() State { return b.state }

// Allow reports whether a new entry may proceed at the given time. It also
// advances time-driven transitions: cooldown expiry and the day boundary.
func (b *Breaker) Allow(now time.Time) error {
	b.rotateSession(now)

	switch b.state {
	case StateCritical:
		return errors.Wrap(exception.ErrBreakerCritical, "entry blocked")
	case StateDailyHalt:
		return errors.Wrap(exception.ErrBreakerDailyHalt, "entry blocked").
			With("session", b.sessionDate)
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.Cooldown {
			return errors.Wrap(exception.ErrBreakerOpen, "entry blocked").
				With("opened_at", b.openedAt.Format(time.RFC3339))
		}
		b.state = StateClosed
		b.window.Reset()
		logs.Infof("breaker cooldown elapsed, closed again (trip %d this session)", b.trips)
		return nil
	default:
		return nil
	}
}

// RecordSuccess notes one successful operation.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.rotateSession(now)
	b.window.Record(false)
}

// RecordFailure notes one failed operation. Timeouts count as failures.
func (b *Breaker) RecordFailure(now time.Time) {
	b.rotateSession(now)
	b.window.Record(true)

	if b.state != StateClosed {
		return
	}
	if b.window.Consecutive() >= b.cfg.ConsecutiveThreshold ||
		b.window.Failures() >= b.cfg.WindowThreshold {
		b.trip(now)
	}
}

// EnterCritical escalates after an emergency close exhausted its budget.
// There is no cooldown out of this state.
func (b *Breaker) EnterCritical() {
	if b.state == StateCritical {
		return
	}
	b.state = StateCritical
	logs.Errorf("breaker entered critical intervention: operator acknowledgment required")
}

// ConfirmOperatorIntervention clears critical intervention. The
// acknowledgment must be non-empty; it is recorded in the log.
func (b *Breaker) ConfirmOperatorIntervention(ack string) error {
	if b.state != StateCritical {
		return errors.Wrap(exception.ErrBreakerNotCritical, "confirm intervention")
	}
	if ack == "" {
		return errors.Wrap(exception.ErrBreakerInvalidAck, "confirm intervention")
	}
	b.state = StateClosed
	b.window.Reset()
	b.trips = 0
	logs.Warnf("critical intervention cleared by operator: %s", ack)
	return nil
}

func (b *Breaker) trip(now time.Time) {
	b.trips++
	if b.trips >= b.cfg.SessionTripLimit {
		b.state = StateDailyHalt
		logs.Errorf("breaker tripped %d times this session, halting until next day", b.trips)
	} else {
		b.state = StateOpen
		b.openedAt = now
		logs.Warnf("breaker opened: %d consecutive, %d/%d in window",
			b.window.Consecutive(), b.window.Failures(), b.cfg.WindowSize)
	}
	if b.onTrip != nil {
		b.onTrip()
	}
}

// rotateSession resets per-session counters when the calendar day changes.
// A daily halt does not outlive its day; critical intervention does.
func (b *Breaker) rotateSession(now time.Time) {
	date := now.Format(time.DateOnly)
	if date == b.sessionDate {
		return
	}
	b.sessionDate = date
	b.trips = 0
	b.window.Reset()
	if b.state == StateDailyHalt || b.state == StateOpen {
		b.state = StateClosed
		logs.Infof("new session %s, breaker reset", date)
	}
}

// Standing is the persisted breaker state. It survives restarts so a halted
// day stays halted.
type Standing struct {
	State       State     `json:"state"`
	OpenedAt    time.Time `json:"opened_at"`
	SessionDate string    `json:"session_date"`
	Trips       int       `json:"trips"`
}

// Standing exports the persistable state.
func (b *Breaker) Standing() Standing {
	return Standing{
		State:       b.state,
		OpenedAt:    b.openedAt,
		SessionDate: b.sessionDate,
		Trips:       b.trips,
	}
}

// Restore loads a persisted standing. Window contents are not persisted;
// a restart starts from a clean window but keeps the standing itself.
func (b *Breaker) Restore(s Standing) {
	b.state = s.State
	b.openedAt = s.OpenedAt
	b.sessionDate = s.SessionDate
	b.trips = s.Trips
	b.window.Reset()
}
