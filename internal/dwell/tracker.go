package dwell

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrUnknownVisit is returned for a visit id the tracker does not hold.
var ErrUnknownVisit = errors.New("unknown visit")

var visitDwell = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "silentfeed",
		Subsystem: "dwell",
		Name:      "visit_seconds",
		Help:      "Effective dwell time of finished visits in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	},
)

// Visit is a snapshot of a tracked page visit.
type Visit struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	StartedAt           time.Time `json:"started_at"`
	Active              bool      `json:"active"`
	DwellSeconds        float64   `json:"dwell_seconds"`
	LastInteractionTime time.Time `json:"last_interaction_at"`
}

type visit struct {
	url     string
	started time.Time
	calc    *Calculator
}

// Tracker holds one Calculator per open visit. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	visits map[string]*visit
	now    func() time.Time
}

// NewTracker creates an empty Tracker. A nil now uses time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{visits: make(map[string]*visit), now: now}
}

// Start opens a visit of url and returns its id.
func (t *Tracker) Start(url string) Visit {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	v := &visit{url: url, started: t.now(), calc: NewCalculator(t.now)}
	t.visits[id] = v
	return t.snapshot(id, v)
}

// Visibility records a visibility change for a visit.
func (t *Tracker) Visibility(id string, visible bool) (Visit, error) {
	return t.apply(id, func(c *Calculator) { c.OnVisibilityChange(visible) })
}

// Interaction records a user interaction for a visit.
func (t *Tracker) Interaction(id, kind string) (Visit, error) {
	return t.apply(id, func(c *Calculator) { c.OnInteraction(kind) })
}

// Get returns the current snapshot of a visit.
func (t *Tracker) Get(id string) (Visit, error) {
	return t.apply(id, func(*Calculator) {})
}

// End closes a visit and returns its final snapshot.
func (t *Tracker) End(id string) (Visit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.visits[id]
	if !ok {
		return Visit{}, ErrUnknownVisit
	}
	delete(t.visits, id)
	snap := t.snapshot(id, v)
	visitDwell.Observe(snap.DwellSeconds)
	return snap, nil
}

// Prune drops visits without an interaction for longer than maxIdle and
// returns how many were dropped.
func (t *Tracker) Prune(maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, v := range t.visits {
		if v.calc.TimeSinceLastInteraction() > maxIdle {
			delete(t.visits, id)
			n++
		}
	}
	return n
}

// Len returns the number of open visits.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visits)
}

func (t *Tracker) apply(id string, fn func(c *Calculator)) (Visit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.visits[id]
	if !ok {
		return Visit{}, ErrUnknownVisit
	}
	fn(v.calc)
	return t.snapshot(id, v), nil
}

func (t *Tracker) snapshot(id string, v *visit) Visit {
	return Visit{
		ID:                  id,
		URL:                 v.url,
		StartedAt:           v.started,
		Active:              v.calc.IsActive(),
		DwellSeconds:        v.calc.EffectiveDwellTime(),
		LastInteractionTime: v.calc.LastInteractionTime(),
	}
}
