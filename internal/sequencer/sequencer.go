// Package sequencer implements the two-zone crossing state machine.
//
// An object must be seen moving down across the top edge of the entry zone
// and then appear inside the confirm zone before the sequence timeout. A
// confirmed sequence fires the alarm trigger unless the previous alarm is
// still within its cooldown.
//
// Centroids are compared only between consecutive cycles. An object that
// jumps across the entry edge between two samples without being seen above
// it is not armed.
package sequencer

import (
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// Config is fixed for the lifetime of a Sequencer.
type Config struct {
	Entry           types.Zone
	Confirm         types.Zone
	SequenceTimeout time.Duration
	AlarmCooldown   time.Duration
}

// State is the full mutable state. Zero times mean unset.
type State struct {
	EntryTimestamp   time.Time
	LastAlarm        time.Time
	SequenceCount    int
	LastSequence     time.Time
	SequenceDetected bool
	LastCentroid     types.Point
	HasLastCentroid  bool
}

// Pending reports whether an entry is waiting for confirmation.
func (s State) Pending() bool {
	return !s.EntryTimestamp.IsZero()
}

// Status is the externally visible part of State.
type Status struct {
	SequenceDetected bool
	SequenceCount    int
	LastSequence     *time.Time
}

// Result describes what one Step observed and changed.
type Result struct {
	InEntry   bool
	InConfirm bool
	Armed     bool // entry recorded this cycle
	Confirmed bool // sequence confirmed and alarm fired this cycle
	Expired   bool // pending entry timed out this cycle
	Pending   bool // an entry is pending after this cycle
	Count     int
}

// Sequencer owns State behind a single lock. Step is called by the sensing
// loop; Snapshot may be called from any goroutine.
type Sequencer struct {
	cfg     Config
	trigger func()

	mu    sync.RWMutex
	state State
}

// New creates an idle sequencer. trigger is called once per confirmed
// sequence and must not block; it may be nil.
func New(cfg Config, trigger func()) *Sequencer {
	return &Sequencer{
		cfg:     cfg,
		trigger: trigger,
	}
}

// Config returns the zone and timing configuration.
func (s *Sequencer) Config() Config {
	return s.cfg
}

// Step advances the state machine by one cycle. present is false when the
// frame had no qualifying motion region.
func (s *Sequencer) Step(current types.Point, present bool, now time.Time) Result {
	s.mu.Lock()
	res := s.step(current, present, now)
	s.mu.Unlock()

	if res.Confirmed && s.trigger != nil {
		s.trigger()
	}
	return res
}

func (s *Sequencer) step(current types.Point, present bool, now time.Time) Result {
	st := &s.state
	var res Result

	st.SequenceDetected = false

	res.InEntry = present && s.cfg.Entry.Contains(current)
	res.InConfirm = present && s.cfg.Confirm.Contains(current)

	// Downward crossing of the entry zone's top edge.
	if res.InEntry && !st.Pending() && st.HasLastCentroid &&
		st.LastCentroid.Y < s.cfg.Entry.Top() && current.Y >= s.cfg.Entry.Top() {
		st.EntryTimestamp = now
		res.Armed = true
	}

	if res.InConfirm && st.Pending() {
		elapsed := now.Sub(st.EntryTimestamp)
		cooled := st.LastAlarm.IsZero() || now.Sub(st.LastAlarm) > s.cfg.AlarmCooldown
		if elapsed > 0 && elapsed < s.cfg.SequenceTimeout && cooled {
			st.LastAlarm = now
			st.SequenceDetected = true
			st.SequenceCount++
			st.LastSequence = now
			st.EntryTimestamp = time.Time{}
			res.Confirmed = true
		}
	}

	if st.Pending() && now.Sub(st.EntryTimestamp) > s.cfg.SequenceTimeout {
		st.EntryTimestamp = time.Time{}
		res.Expired = true
	}

	st.LastCentroid = current
	st.HasLastCentroid = present

	res.Pending = st.Pending()
	res.Count = st.SequenceCount
	return res
}

// Skip records a cycle that produced no frame. Only the one-cycle detection
// flag is cleared; the last centroid and any pending entry are kept.
func (s *Sequencer) Skip() {
	s.mu.Lock()
	s.state.SequenceDetected = false
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of the public status.
func (s *Sequencer) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		SequenceDetected: s.state.SequenceDetected,
		SequenceCount:    s.state.SequenceCount,
	}
	if !s.state.LastSequence.IsZero() {
		t := s.state.LastSequence
		status.LastSequence = &t
	}
	return status
}

// State returns a consistent copy of the full state.
func (s *Sequencer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
