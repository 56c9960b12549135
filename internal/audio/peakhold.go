package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is the default duration that peak values are held before decaying.
const DefaultPeakHoldDuration = 1500 * time.Millisecond

// PeakHolder tracks peak-hold state for the level display.
// Time is measured on the caller's clock, usually session elapsed time.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         float64
	heldAt       time.Duration
	holdDuration time.Duration
}

// NewPeakHolder creates a new peak holder with the default hold duration.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{holdDuration: DefaultPeakHoldDuration}
}

// Update records a new peak observed at the given time and returns the held peak.
func (p *PeakHolder) Update(peak float64, at time.Duration) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peak >= p.held || at-p.heldAt > p.holdDuration {
		p.held = peak
		p.heldAt = at
	}
	return p.held
}

// SetHoldDuration updates the peak hold duration.
func (p *PeakHolder) SetHoldDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdDuration = d
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = 0
	p.heldAt = 0
}
