// Package timer models the dispatcher's protocol timer wheel: NAK
// retransmission backoff and peer expiry, built on a clockwork.Clock so
// tests can drive time deterministically instead of sleeping, and on
// cenkalti/backoff for the NAK retry schedule (spec §9's reference timer
// design, supplementing the spec's interface-only timer_check/
// timer_dispatch/timer_prepare/timer_expiration contract).
package timer

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// Wheel is the contract a transport endpoint uses to learn when it next
// needs to do protocol work (retransmit a NAK, expire a stale peer) without
// polling on every ingest loop iteration.
type Wheel interface {
	// Check returns the duration until the next scheduled expiration, or
	// ok=false if nothing is scheduled.
	Check() (d time.Duration, ok bool)
	// Dispatch calls fire for every expiration due at or before now. It
	// does not clear them: fire reschedules with Prepare or stops with
	// Reset.
	Dispatch(now time.Time, fire func(id string))
	// Prepare schedules id to fire after backing off once more, following
	// the NAK retransmission backoff curve.
	Prepare(id string) time.Time
	// Reset clears any scheduled expiration for id, e.g. once a repair
	// arrives and the outstanding NAK no longer needs retrying.
	Reset(id string)
}

type entry struct {
	at      time.Time
	backoff backoff.BackOff
}

// ClockWheel is the reference Wheel implementation: an in-memory schedule
// keyed by an opaque id (typically a TSI+sequence pair formatted by the
// caller), driven by a clockwork.Clock so tests can advance time
// synchronously instead of sleeping real wall-clock seconds.
type ClockWheel struct {
	clock   clockwork.Clock
	initial time.Duration
	max     time.Duration
	entries map[string]*entry
}

// NewClockWheel creates a Wheel that backs off NAK retransmission starting
// at initial and capping at max, using clock as its time source. Pass
// clockwork.NewRealClock() in production and clockwork.NewFakeClock() in
// tests.
func NewClockWheel(clock clockwork.Clock, initial, max time.Duration) *ClockWheel {
	return &ClockWheel{
		clock:   clock,
		initial: initial,
		max:     max,
		entries: make(map[string]*entry),
	}
}

func (w *ClockWheel) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initial
	b.MaxInterval = w.max
	b.MaxElapsedTime = 0 // retried until explicitly Reset.
	b.Clock = backoffClock{w.clock}
	b.Reset()
	return b
}

// Prepare schedules (or reschedules) id to fire after its next backoff
// interval, relative to the wheel's clock.
func (w *ClockWheel) Prepare(id string) time.Time {
	e, ok := w.entries[id]
	if !ok {
		e = &entry{backoff: w.newBackOff()}
		w.entries[id] = e
	}
	e.at = w.clock.Now().Add(e.backoff.NextBackOff())
	return e.at
}

// Reset clears any scheduled expiration for id.
func (w *ClockWheel) Reset(id string) {
	delete(w.entries, id)
}

// Check returns the duration until the earliest scheduled expiration.
func (w *ClockWheel) Check() (time.Duration, bool) {
	if len(w.entries) == 0 {
		return 0, false
	}
	now := w.clock.Now()
	var earliest time.Time
	found := false
	for _, e := range w.entries {
		if !found || e.at.Before(earliest) {
			earliest = e.at
			found = true
		}
	}
	if !found {
		return 0, false
	}
	if earliest.Before(now) {
		return 0, true
	}
	return earliest.Sub(now), true
}

// Dispatch fires the callback for every id whose expiration is at or
// before now, removing nothing itself — callers call Prepare again (to
// reschedule another retry) or Reset (to stop retrying) from within fire.
func (w *ClockWheel) Dispatch(now time.Time, fire func(id string)) {
	var due []string
	for id, e := range w.entries {
		if !e.at.After(now) {
			due = append(due, id)
		}
	}
	for _, id := range due {
		fire(id)
	}
}

// backoffClock adapts clockwork.Clock to backoff.Clock.
type backoffClock struct {
	clockwork.Clock
}

func (c backoffClock) Now() time.Time { return c.Clock.Now() }
