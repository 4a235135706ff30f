// Package dwell converts page visibility and interaction events into an
// engagement time that stops counting once the user goes idle.
package dwell

import (
	"time"
)

// InteractionWindow is how long after the last interaction time still
// counts as active reading.
const InteractionWindow = 30 * time.Second

// State is the immutable engagement state of one page visit.
type State struct {
	LastActiveTime      time.Time
	LastInteractionTime time.Time
	TotalActive         time.Duration
	IsCurrentlyActive   bool
}

// NewState returns a visit that became visible at now.
func NewState(now time.Time) State {
	return State{
		LastActiveTime:      now,
		LastInteractionTime: now,
		IsCurrentlyActive:   true,
	}
}

// OnVisibilityChange returns s after the page became visible or hidden at
// now. Becoming visible opens a segment; becoming hidden closes the open one
// into TotalActive. Repeated events of the same kind are no-ops.
func (s State) OnVisibilityChange(visible bool, now time.Time) State {
	switch {
	case visible && !s.IsCurrentlyActive:
		s.IsCurrentlyActive = true
		s.LastActiveTime = now
	case !visible && s.IsCurrentlyActive:
		s.TotalActive += now.Sub(s.LastActiveTime)
		s.IsCurrentlyActive = false
	}
	return s
}

// OnInteraction returns s with the interaction clock moved to now.
func (s State) OnInteraction(now time.Time) State {
	s.LastInteractionTime = now
	return s
}

// Effective returns the engagement time at now. The open segment is cut off
// InteractionWindow after the last interaction.
//
// The cutoff is evaluated on read, so an interaction after a cutoff moves
// the deadline and the open segment counts in full again.
func Effective(s State, now time.Time) time.Duration {
	deadline := now
	if now.Sub(s.LastInteractionTime) > InteractionWindow {
		deadline = s.LastInteractionTime.Add(InteractionWindow)
	}

	total := s.TotalActive
	if s.IsCurrentlyActive {
		if deadline.After(now) {
			deadline = now
		}
		if seg := deadline.Sub(s.LastActiveTime); seg > 0 {
			total += seg
		}
	}
	return total
}

// EffectiveSeconds is Effective in fractional seconds.
func EffectiveSeconds(s State, now time.Time) float64 {
	return Effective(s, now).Seconds()
}
