package models

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/screenocr/internal/device"
	"github.com/jackzampolin/screenocr/internal/engine"
	"github.com/jackzampolin/screenocr/internal/metrics"
	"github.com/jackzampolin/screenocr/internal/progress"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, backend engine.Backend, prober device.StaticProber) *Registry {
	t.Helper()
	r, err := NewRegistry(Config{
		Backend:  backend,
		Selector: device.NewSelector(device.Config{Prober: prober, Logger: discardLogger()}),
		Tracker:  progress.NewTracker(),
		Metrics:  metrics.NewRecorder(),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestNewRegistry_RequiresBackend(t *testing.T) {
	if _, err := NewRegistry(Config{}); err == nil {
		t.Error("expected error without backend")
	}
}

func TestRegistry_EnsureLoaded(t *testing.T) {
	ctx := context.Background()
	backend := engine.NewMockBackend()
	r := newTestRegistry(t, backend, device.StaticProber{})

	if r.Loaded() {
		t.Fatal("loaded before EnsureLoaded")
	}
	if _, ok := r.Bundle(); ok {
		t.Fatal("bundle present before EnsureLoaded")
	}

	if !r.EnsureLoaded(ctx) {
		t.Fatalf("EnsureLoaded() = false, last error %v", r.LastError())
	}

	b, ok := r.Bundle()
	if !ok || !b.Complete() {
		t.Fatal("bundle incomplete after load")
	}
	state := r.Tracker().Get()
	if state.Status != progress.StatusReady || state.Progress != 100 {
		t.Errorf("state = %+v, want ready/100", state)
	}
	if state.Device != "cpu" {
		t.Errorf("device = %q, want cpu", state.Device)
	}

	t.Run("second call does no work", func(t *testing.T) {
		recognizeBefore := backend.RecognizeCalls()
		if !r.EnsureLoaded(ctx) {
			t.Fatal("second EnsureLoaded() = false")
		}
		if n := backend.LoadCalls(); n != 1 {
			t.Errorf("load attempts = %d, want 1", n)
		}
		if backend.RecognizeCalls() != recognizeBefore {
			t.Error("second call ran warmup again")
		}
	})

	t.Run("warmup ran once with one blank image", func(t *testing.T) {
		if backend.RecognizeCalls() != 1 || backend.ImagesSeen() != 1 {
			t.Errorf("recognize calls = %d, images = %d", backend.RecognizeCalls(), backend.ImagesSeen())
		}
	})

	t.Run("models placed and in eval mode", func(t *testing.T) {
		models := backend.Models()
		if len(models) != 2 {
			t.Fatalf("got %d models, want 2", len(models))
		}
		for _, m := range models {
			choice, half, eval := m.Placement()
			if choice.Kind != device.KindCPU {
				t.Errorf("%s placed on %s", m.Name(), choice.Kind)
			}
			if half {
				t.Errorf("%s converted to half on cpu", m.Name())
			}
			if !eval {
				t.Errorf("%s not in eval mode", m.Name())
			}
		}
	})
}

func TestRegistry_HalfPrecisionOnCUDA(t *testing.T) {
	backend := engine.NewMockBackend()
	r := newTestRegistry(t, backend, device.StaticProber{HasCUDA: true, CUDAName: "Test GPU"})

	if !r.EnsureLoaded(context.Background()) {
		t.Fatal("EnsureLoaded() = false")
	}
	choice, ok := r.Device()
	if !ok || choice.Kind != device.KindCUDA || choice.Precision != device.PrecisionHalf {
		t.Errorf("Device() = %+v, %v", choice, ok)
	}
	for _, m := range backend.Models() {
		if _, half, _ := m.Placement(); !half {
			t.Errorf("%s not converted to half precision", m.Name())
		}
	}
}

func TestRegistry_MPSKeepsFullPrecision(t *testing.T) {
	backend := engine.NewMockBackend()
	r := newTestRegistry(t, backend, device.StaticProber{HasMPS: true})

	if !r.EnsureLoaded(context.Background()) {
		t.Fatal("EnsureLoaded() = false")
	}
	for _, m := range backend.Models() {
		choice, half, _ := m.Placement()
		if choice.Kind != device.KindMPS || half {
			t.Errorf("%s: kind=%s half=%v", m.Name(), choice.Kind, half)
		}
	}
}

func TestRegistry_ConcurrentFirstCallsShareOneLoad(t *testing.T) {
	backend := engine.NewMockBackend()
	backend.LoadLatency = 20 * time.Millisecond
	r := newTestRegistry(t, backend, device.StaticProber{})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.EnsureLoaded(context.Background())
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Errorf("caller %d got false", i)
		}
	}
	if n := backend.LoadCalls(); n != 1 {
		t.Errorf("load attempts = %d, want 1", n)
	}
	if n := len(backend.Models()); n != 2 {
		t.Errorf("models loaded = %d, want 2", n)
	}
}

func TestRegistry_FailureThenRetry(t *testing.T) {
	ctx := context.Background()
	backend := engine.NewMockBackend()
	backend.SetLoadErr(errors.New("weights download failed"))
	r := newTestRegistry(t, backend, device.StaticProber{})

	if r.EnsureLoaded(ctx) {
		t.Fatal("EnsureLoaded() = true with failing backend")
	}
	if r.Loaded() {
		t.Fatal("registry loaded after failure")
	}
	if _, ok := r.Bundle(); ok {
		t.Fatal("partial bundle visible after failure")
	}
	state := r.Tracker().Get()
	if state.Status != progress.StatusError || state.Progress != 0 {
		t.Errorf("state = %+v, want error/0", state)
	}
	if !strings.Contains(state.Message, "weights download failed") {
		t.Errorf("message = %q", state.Message)
	}
	if r.LastError() == nil {
		t.Error("LastError() = nil after failure")
	}

	backend.SetLoadErr(nil)
	if !r.EnsureLoaded(ctx) {
		t.Fatalf("retry EnsureLoaded() = false: %v", r.LastError())
	}
	if n := backend.LoadCalls(); n != 2 {
		t.Errorf("load attempts = %d, want 2", n)
	}
	if s := r.Tracker().Get(); s.Status != progress.StatusReady || s.Progress != 100 {
		t.Errorf("state after retry = %+v", s)
	}
	if r.LastError() != nil {
		t.Errorf("LastError() = %v after success", r.LastError())
	}
}

func TestRegistry_MissingDependency(t *testing.T) {
	backend := engine.NewMockBackend()
	backend.Missing = true
	r := newTestRegistry(t, backend, device.StaticProber{})

	if r.EnsureLoaded(context.Background()) {
		t.Fatal("EnsureLoaded() = true with missing dependency")
	}
	if !errors.Is(r.LastError(), engine.ErrMissingDependency) {
		t.Errorf("LastError() = %v, want ErrMissingDependency", r.LastError())
	}
	state := r.Tracker().Get()
	if state.Status != progress.StatusError {
		t.Errorf("status = %q, want error", state.Status)
	}
	if !strings.Contains(state.Message, "not installed") {
		t.Errorf("message = %q", state.Message)
	}
	if backend.LoadCalls() != 0 {
		t.Error("loads attempted despite missing dependency")
	}
}

func TestRegistry_WarmupFailureIsSwallowed(t *testing.T) {
	backend := engine.NewMockBackend()
	backend.SetRecognizeErr(errors.New("warmup exploded"))
	r := newTestRegistry(t, backend, device.StaticProber{})

	if !r.EnsureLoaded(context.Background()) {
		t.Fatalf("EnsureLoaded() = false: %v", r.LastError())
	}
	if s := r.Tracker().Get(); s.Status != progress.StatusReady {
		t.Errorf("status = %q, want ready", s.Status)
	}
}

type panickyBackend struct {
	*engine.MockBackend
}

func (p panickyBackend) DetectAndRecognize(ctx context.Context, b *engine.Bundle, images []image.Image, langs [][]string) ([][]engine.TextLine, error) {
	panic("kernel fault")
}

func TestRegistry_WarmupPanicIsSwallowed(t *testing.T) {
	r := newTestRegistry(t, panickyBackend{engine.NewMockBackend()}, device.StaticProber{})
	if !r.EnsureLoaded(context.Background()) {
		t.Fatalf("EnsureLoaded() = false: %v", r.LastError())
	}
}

// loadPanicBackend panics while loading the recognizer until disarmed.
type loadPanicBackend struct {
	*engine.MockBackend
	armed *atomic.Bool
}

func (p loadPanicBackend) LoadRecognizer(ctx context.Context) (engine.Model, error) {
	if p.armed.Load() {
		panic("weights file corrupt")
	}
	return p.MockBackend.LoadRecognizer(ctx)
}

func TestRegistry_LoadPanicFailsLoad(t *testing.T) {
	ctx := context.Background()
	armed := &atomic.Bool{}
	armed.Store(true)
	r := newTestRegistry(t, loadPanicBackend{engine.NewMockBackend(), armed}, device.StaticProber{})

	if r.EnsureLoaded(ctx) {
		t.Fatal("EnsureLoaded() = true with panicking load")
	}
	state := r.Tracker().Get()
	if state.Status != progress.StatusError || state.Progress != 0 {
		t.Errorf("state = %+v, want error/0", state)
	}
	if !strings.Contains(state.Message, "weights file corrupt") {
		t.Errorf("message = %q", state.Message)
	}
	if _, ok := r.Bundle(); ok {
		t.Fatal("bundle visible after panic")
	}

	armed.Store(false)
	if !r.EnsureLoaded(ctx) {
		t.Fatalf("retry EnsureLoaded() = false: %v", r.LastError())
	}
}

// evalPanicModel panics when switched to inference mode.
type evalPanicModel struct {
	engine.Model
}

func (evalPanicModel) Eval() { panic("eval on released tensor") }

type evalPanicBackend struct {
	*engine.MockBackend
}

func (p evalPanicBackend) LoadDetector(ctx context.Context) (engine.Model, error) {
	m, err := p.MockBackend.LoadDetector(ctx)
	return evalPanicModel{m}, err
}

func TestRegistry_PlacementPanicFailsLoad(t *testing.T) {
	r := newTestRegistry(t, evalPanicBackend{engine.NewMockBackend()}, device.StaticProber{})

	if r.EnsureLoaded(context.Background()) {
		t.Fatal("EnsureLoaded() = true with panicking Eval")
	}
	if s := r.Tracker().Get(); s.Status != progress.StatusError {
		t.Errorf("status = %q, want error", s.Status)
	}
	if err := r.LastError(); err == nil || !strings.Contains(err.Error(), "eval on released tensor") {
		t.Errorf("LastError() = %v", err)
	}
}

func TestRegistry_SelectedDeviceSurvivesFailure(t *testing.T) {
	backend := engine.NewMockBackend()
	backend.SetLoadErr(errors.New("weights download failed"))
	r := newTestRegistry(t, backend, device.StaticProber{})

	if _, ok := r.SelectedDevice(); ok {
		t.Fatal("device reported before any load attempt")
	}
	if r.EnsureLoaded(context.Background()) {
		t.Fatal("EnsureLoaded() = true with failing backend")
	}
	choice, ok := r.SelectedDevice()
	if !ok || choice.Kind != device.KindCPU || choice.Precision != device.PrecisionFull {
		t.Errorf("SelectedDevice() = %+v, %v", choice, ok)
	}
	if _, ok := r.Device(); ok {
		t.Error("Device() reports placement after failed load")
	}
}

func TestRegistry_SkipWarmup(t *testing.T) {
	backend := engine.NewMockBackend()
	r, err := NewRegistry(Config{
		Backend:    backend,
		Selector:   device.NewSelector(device.Config{Prober: device.StaticProber{}, Logger: discardLogger()}),
		Logger:     discardLogger(),
		SkipWarmup: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r.EnsureLoaded(context.Background()) {
		t.Fatal("EnsureLoaded() = false")
	}
	if backend.RecognizeCalls() != 0 {
		t.Error("warmup ran with SkipWarmup")
	}
}

func TestRegistry_ProgressIsMonotonicDuringLoad(t *testing.T) {
	backend := engine.NewMockBackend()
	backend.LoadLatency = 5 * time.Millisecond
	r := newTestRegistry(t, backend, device.StaticProber{})

	done := make(chan bool)
	go func() { done <- r.EnsureLoaded(context.Background()) }()

	last := 0
	for {
		select {
		case ok := <-done:
			if !ok {
				t.Fatal("EnsureLoaded() = false")
			}
			if s := r.Tracker().Get(); s.Progress != 100 {
				t.Errorf("final progress = %d", s.Progress)
			}
			return
		default:
		}
		s := r.Tracker().Get()
		if s.Status == progress.StatusLoading {
			if s.Progress < last {
				t.Fatalf("progress went from %d to %d", last, s.Progress)
			}
			last = s.Progress
		}
	}
}

func TestRegistry_CancelledCallerDoesNotAbortLoad(t *testing.T) {
	backend := engine.NewMockBackend()
	backend.LoadLatency = 30 * time.Millisecond
	r := newTestRegistry(t, backend, device.StaticProber{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r.EnsureLoaded(ctx) {
		t.Fatal("cancelled caller reported loaded")
	}

	if !r.EnsureLoaded(context.Background()) {
		t.Fatalf("EnsureLoaded() = false: %v", r.LastError())
	}
	if n := backend.LoadCalls(); n != 1 {
		t.Errorf("load attempts = %d, want 1", n)
	}
}
