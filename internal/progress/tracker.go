// Package progress tracks the model loading state shown to pollers of /progress.
package progress

import (
	"sync"
	"time"
)

// Status is the load lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// DeviceUnknown is reported before a device has been selected.
const DeviceUnknown = "not initialized"

// State is a point-in-time snapshot of the tracker.
type State struct {
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Device    string    `json:"device"`
	UpdatedAt time.Time `json:"-"`
}

// Tracker holds the load state behind a mutex. Writers replace status, progress
// and message together; readers get copies.
//
// Rules applied on Set:
//   - entering loading from any other status starts a new attempt at 0
//   - while loading, progress never decreases
//   - ready is always 100, error and not_started are always 0
type Tracker struct {
	mu    sync.Mutex
	state State
	now   func() time.Time
}

// NewTracker returns a tracker in the not_started state.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.state = State{
		Status:    StatusNotStarted,
		Message:   "Models not loaded",
		Device:    DeviceUnknown,
		UpdatedAt: t.now(),
	}
	return t
}

// Set replaces status, progress and message as one unit.
func (t *Tracker) Set(status Status, progress int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(status, progress, message)
}

func (t *Tracker) setLocked(status Status, progress int, message string) {
	progress = clamp(progress)
	switch status {
	case StatusLoading:
		if t.state.Status != StatusLoading {
			progress = 0
		} else if progress < t.state.Progress {
			progress = t.state.Progress
		}
	case StatusReady:
		progress = 100
	default:
		progress = 0
	}

	t.state.Status = status
	t.state.Progress = progress
	t.state.Message = message
	t.state.UpdatedAt = t.now()
}

// Begin starts a new loading attempt at 0.
func (t *Tracker) Begin(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Status = StatusLoading
	t.state.Progress = 0
	t.state.Message = message
	t.state.UpdatedAt = t.now()
}

// Advance moves a loading attempt forward. It is a no-op outside loading.
func (t *Tracker) Advance(progress int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status == StatusLoading {
		t.setLocked(StatusLoading, progress, message)
	}
}

// Ready marks loading complete.
func (t *Tracker) Ready(message string) {
	t.Set(StatusReady, 100, message)
}

// Fail marks the current attempt failed.
func (t *Tracker) Fail(message string) {
	t.Set(StatusError, 0, message)
}

// SetDevice records the selected device name.
func (t *Tracker) SetDevice(device string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Device = device
	t.state.UpdatedAt = t.now()
}

// Get returns a copy of the current state.
func (t *Tracker) Get() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
