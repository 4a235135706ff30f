package dwell

import "time"

// Calculator tracks one page visit against a clock. It is not safe for
// concurrent use.
type Calculator struct {
	state State
	now   func() time.Time
}

// NewCalculator starts a visit at the current time of now. A nil now uses
// time.Now.
func NewCalculator(now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{state: NewState(now()), now: now}
}

// OnVisibilityChange records the page becoming visible or hidden.
func (c *Calculator) OnVisibilityChange(visible bool) {
	c.state = c.state.OnVisibilityChange(visible, c.now())
}

// OnInteraction records a user interaction such as a scroll or click. The
// kind does not affect the result.
func (c *Calculator) OnInteraction(kind string) {
	c.state = c.state.OnInteraction(c.now())
}

// EffectiveDwellTime returns the engagement time in seconds.
func (c *Calculator) EffectiveDwellTime() float64 {
	return EffectiveSeconds(c.state, c.now())
}

// TimeSinceLastInteraction returns the time elapsed since the last interaction.
func (c *Calculator) TimeSinceLastInteraction() time.Duration {
	return c.now().Sub(c.state.LastInteractionTime)
}

// IsActive reports whether the page is currently visible.
func (c *Calculator) IsActive() bool {
	return c.state.IsCurrentlyActive
}

// LastInteractionTime returns when the user last interacted.
func (c *Calculator) LastInteractionTime() time.Time {
	return c.state.LastInteractionTime
}

// State returns a snapshot of the current state.
func (c *Calculator) State() State {
	return c.state
}

// Reset starts a fresh visible visit at the current time.
func (c *Calculator) Reset() {
	c.state = NewState(c.now())
}
