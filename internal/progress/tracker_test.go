package progress

import (
	"sync"
	"testing"
)

func TestNewTracker(t *testing.T) {
	tr := NewTracker()
	s := tr.Get()
	if s.Status != StatusNotStarted {
		t.Errorf("Status = %q, want %q", s.Status, StatusNotStarted)
	}
	if s.Progress != 0 {
		t.Errorf("Progress = %d, want 0", s.Progress)
	}
	if s.Device != DeviceUnknown {
		t.Errorf("Device = %q, want %q", s.Device, DeviceUnknown)
	}
}

func TestTracker_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		steps  func(tr *Tracker)
		status Status
		pct    int
	}{
		{
			name: "entering loading resets to zero",
			steps: func(tr *Tracker) {
				tr.Set(StatusLoading, 40, "loading")
			},
			status: StatusLoading,
			pct:    0,
		},
		{
			name: "loading is monotonic",
			steps: func(tr *Tracker) {
				tr.Begin("start")
				tr.Advance(50, "half")
				tr.Advance(20, "backwards")
			},
			status: StatusLoading,
			pct:    50,
		},
		{
			name: "ready is always 100",
			steps: func(tr *Tracker) {
				tr.Begin("start")
				tr.Set(StatusReady, 70, "done")
			},
			status: StatusReady,
			pct:    100,
		},
		{
			name: "error resets to zero",
			steps: func(tr *Tracker) {
				tr.Begin("start")
				tr.Advance(85, "almost")
				tr.Fail("boom")
			},
			status: StatusError,
			pct:    0,
		},
		{
			name: "retry after error starts from zero",
			steps: func(tr *Tracker) {
				tr.Begin("start")
				tr.Advance(60, "partial")
				tr.Fail("boom")
				tr.Set(StatusLoading, 30, "again")
			},
			status: StatusLoading,
			pct:    0,
		},
		{
			name: "advance outside loading is ignored",
			steps: func(tr *Tracker) {
				tr.Ready("done")
				tr.Advance(10, "late")
			},
			status: StatusReady,
			pct:    100,
		},
		{
			name: "progress is clamped",
			steps: func(tr *Tracker) {
				tr.Begin("start")
				tr.Advance(250, "over")
			},
			status: StatusLoading,
			pct:    100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tt.steps(tr)
			s := tr.Get()
			if s.Status != tt.status {
				t.Errorf("Status = %q, want %q", s.Status, tt.status)
			}
			if s.Progress != tt.pct {
				t.Errorf("Progress = %d, want %d", s.Progress, tt.pct)
			}
		})
	}
}

func TestTracker_GetReturnsCopy(t *testing.T) {
	tr := NewTracker()
	s := tr.Get()
	s.Status = StatusReady
	s.Progress = 100

	if got := tr.Get(); got.Status != StatusNotStarted || got.Progress != 0 {
		t.Errorf("mutating snapshot changed tracker: %+v", got)
	}
}

func TestTracker_SetDevice(t *testing.T) {
	tr := NewTracker()
	tr.Begin("start")
	tr.Advance(10, "device")
	tr.SetDevice("cuda")

	s := tr.Get()
	if s.Device != "cuda" {
		t.Errorf("Device = %q, want cuda", s.Device)
	}
	if s.Progress != 10 || s.Message != "device" {
		t.Errorf("SetDevice disturbed state: %+v", s)
	}
}

func TestTracker_ConcurrentPollersSeeMonotonicProgress(t *testing.T) {
	tr := NewTracker()
	tr.Begin("start")

	var wg sync.WaitGroup
	errs := make(chan string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				s := tr.Get()
				if s.Status == StatusLoading && s.Progress < last {
					errs <- "progress went backwards"
					return
				}
				last = s.Progress
				if s.Status == StatusReady {
					if s.Progress != 100 {
						errs <- "ready below 100"
					}
					return
				}
			}
		}()
	}

	for p := 0; p <= 95; p += 5 {
		tr.Advance(p, "step")
	}
	tr.Ready("done")
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}
