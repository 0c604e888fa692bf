// Package history keeps an in-memory ring of enclosure samples so the web
// UI can chart the last day without any external storage.
package history

import (
	"sync"
	"time"
)

// Point is one merged snapshot taken per poll tick. Readings from devices
// that were unreachable on that tick stay nil.
type Point struct {
	Time        time.Time `json:"time"`
	Raining     *bool     `json:"raining,omitempty"`
	CoverClosed bool      `json:"cover_closed"`

	ClimateTemp     *float64 `json:"climate_temp_c,omitempty"`
	ClimateSetpoint *float64 `json:"climate_setpoint_c,omitempty"`
	ACTemp          *float64 `json:"ac_temp_c,omitempty"`
	EnvTemp         *float64 `json:"env_temp_c,omitempty"`
	Humidity        *float64 `json:"humidity_pct,omitempty"`
	Pressure        *float64 `json:"pressure_hpa,omitempty"`
}

// Ring is a fixed-size circular buffer of Points.
type Ring struct {
	mu       sync.RWMutex
	points   []Point
	position int
	count    int
}

// DefaultCapacity holds one day of one-second samples.
const DefaultCapacity = 24 * 60 * 60

// New creates a ring holding at most capacity points.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{points: make([]Point, capacity)}
}

// Add appends one point, evicting the oldest when full.
func (r *Ring) Add(p Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points[r.position] = p
	r.position = (r.position + 1) % len(r.points)
	if r.count < len(r.points) {
		r.count++
	}
}

// Latest returns the most recent point, or nil if nothing was recorded.
func (r *Ring) Latest() *Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return nil
	}
	idx := (r.position - 1 + len(r.points)) % len(r.points)
	p := r.points[idx]
	return &p
}

// Since returns the points newer than cutoff in chronological order.
func (r *Ring) Since(cutoff time.Time) []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Point, 0, r.count)
	start := (r.position - r.count + len(r.points)) % len(r.points)
	for i := 0; i < r.count; i++ {
		p := r.points[(start+i)%len(r.points)]
		if p.Time.After(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// All returns every recorded point in chronological order.
func (r *Ring) All() []Point {
	return r.Since(time.Time{})
}

// Len returns how many points are currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
