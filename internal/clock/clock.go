// Package clock provides the chain's time-keeper: an NTP-tolerant
// source of the current timestamp used to stamp and validate events.
// Real NTP synchronization is an external collaborator; this package
// only defines the interface a chain consumes and a deterministic fake
// for tests.
package clock

import "time"

// Source returns the current time as unix milliseconds, plus the
// tolerance window (in milliseconds) within which an event's own
// timestamp must fall to be considered valid.
type Source interface {
	NowMS() int64
	ToleranceMS() int64
}

// System is a Source backed by the OS clock with a fixed tolerance,
// suitable for production use once NTP sync has been established.
type System struct {
	Tolerance time.Duration
}

// NewSystem returns a System source with the given tolerance, defaulting
// to a 30-second sync tolerance when d is zero.
func NewSystem(d time.Duration) System {
	if d <= 0 {
		d = 30 * time.Second
	}
	return System{Tolerance: d}
}

func (s System) NowMS() int64 { return time.Now().UnixMilli() }

func (s System) ToleranceMS() int64 { return s.Tolerance.Milliseconds() }

// Fixed is a deterministic Source for tests: NowMS always returns the
// same value until explicitly advanced.
type Fixed struct {
	ms        int64
	tolerance int64
}

// NewFixed returns a Fixed source starting at ms with the given
// tolerance.
func NewFixed(ms int64, tolerance time.Duration) *Fixed {
	return &Fixed{ms: ms, tolerance: tolerance.Milliseconds()}
}

func (f *Fixed) NowMS() int64 { return f.ms }

func (f *Fixed) ToleranceMS() int64 { return f.tolerance }

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.ms += d.Milliseconds() }

// Set pins the fixed clock to an exact value.
func (f *Fixed) Set(ms int64) { f.ms = ms }

// InTolerance reports whether ts is within the source's tolerance
// window of "now": an event's own timestamp must fall inside the
// chain's configured NTP tolerance window at the moment it is linted.
func InTolerance(src Source, ts int64) bool {
	now := src.NowMS()
	tol := src.ToleranceMS()
	delta := ts - now
	if delta < 0 {
		delta = -delta
	}
	return delta <= tol
}
