// Package models owns the loaded OCR models and the one-time load sequence.
package models

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jackzampolin/screenocr/internal/device"
	"github.com/jackzampolin/screenocr/internal/engine"
	"github.com/jackzampolin/screenocr/internal/metrics"
	"github.com/jackzampolin/screenocr/internal/progress"
)

// Progress checkpoints reported during a load attempt.
const (
	pctStart          = 0
	pctDevice         = 10
	pctDetector       = 50
	pctRecognizerBase = 55
	pctRecognizer     = 85
	pctPlacement      = 88
	pctWarmup         = 92
)

// warmupSize is the edge length of the blank warmup image.
const warmupSize = 100

// loadWorkers is the number of concurrent loads per model/processor pair.
const loadWorkers = 2

// Config configures a Registry.
type Config struct {
	Backend  engine.Backend
	Selector *device.Selector
	Tracker  *progress.Tracker
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	// SkipWarmup disables the warmup inference.
	SkipWarmup bool
	// WarmupLangs are the languages used for warmup (default: ["en"]).
	WarmupLangs []string
}

// Registry loads the detector and recognizer once and hands them to callers.
//
// States: not loaded -> loading -> loaded | failed. A failed attempt leaves the
// registry not loaded; the next EnsureLoaded starts over from device selection.
// Concurrent callers that arrive while an attempt is running wait for it
// instead of starting another.
type Registry struct {
	backend     engine.Backend
	selector    *device.Selector
	tracker     *progress.Tracker
	metrics     *metrics.Recorder
	logger      *slog.Logger
	warmup      bool
	warmupLangs []string

	mu       sync.RWMutex
	bundle   *engine.Bundle
	choice   device.Choice
	selected bool
	lastErr  error

	inflight singleflight.Group
}

// NewRegistry creates a Registry. Backend is required.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Backend == nil {
		return nil, errors.New("models: backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Selector == nil {
		cfg.Selector = device.NewSelector(device.Config{Logger: cfg.Logger})
	}
	if cfg.Tracker == nil {
		cfg.Tracker = progress.NewTracker()
	}
	if len(cfg.WarmupLangs) == 0 {
		cfg.WarmupLangs = []string{"en"}
	}
	return &Registry{
		backend:     cfg.Backend,
		selector:    cfg.Selector,
		tracker:     cfg.Tracker,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "models", "engine", cfg.Backend.Name()),
		warmup:      !cfg.SkipWarmup,
		warmupLangs: cfg.WarmupLangs,
	}, nil
}

// EnsureLoaded loads the models if needed and reports whether they are usable.
// Only the first caller does any work; later callers return immediately once
// the models are loaded.
func (r *Registry) EnsureLoaded(ctx context.Context) bool {
	if r.Loaded() {
		return true
	}

	// Loads are not cancellable: a caller that goes away must not abort the
	// attempt other callers are waiting on.
	loadCtx := context.WithoutCancel(ctx)
	ch := r.inflight.DoChan("load", func() (any, error) {
		if r.Loaded() {
			return nil, nil
		}
		return nil, r.load(loadCtx)
	})

	select {
	case res := <-ch:
		return res.Err == nil
	case <-ctx.Done():
		return false
	}
}

// Loaded reports whether the models are loaded.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bundle != nil
}

// Bundle returns the loaded models.
func (r *Registry) Bundle() (*engine.Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bundle, r.bundle != nil
}

// Device returns the device the models were placed on.
func (r *Registry) Device() (device.Choice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.choice, r.bundle != nil
}

// SelectedDevice returns the device chosen by the most recent load attempt,
// whether or not that attempt succeeded. The bool is false until a device has
// been selected.
func (r *Registry) SelectedDevice() (device.Choice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.choice, r.selected
}

// LastError returns the error of the most recent failed attempt, if any.
func (r *Registry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Backend returns the OCR backend.
func (r *Registry) Backend() engine.Backend {
	return r.backend
}

// Tracker returns the progress tracker.
func (r *Registry) Tracker() *progress.Tracker {
	return r.tracker
}

// load runs one attempt and records the outcome.
func (r *Registry) load(ctx context.Context) error {
	start := time.Now()
	bundle, choice, err := r.loadBundle(ctx)
	if err != nil {
		result := metrics.ResultFailure
		msg := fmt.Sprintf("Error loading models: %v", err)
		if errors.Is(err, engine.ErrMissingDependency) {
			result = metrics.ResultMissing
			msg = fmt.Sprintf("OCR engine %q is not installed: %v", r.backend.Name(), err)
		}
		r.logger.Error("model load failed", "error", err, "duration", time.Since(start))

		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()

		r.tracker.Fail(msg)
		r.metrics.SetLoadProgress(0)
		r.metrics.RecordLoad(result, time.Since(start))
		return err
	}

	r.mu.Lock()
	r.bundle = bundle
	r.choice = choice
	r.lastErr = nil
	r.mu.Unlock()

	r.tracker.Ready(fmt.Sprintf("Models loaded on %s", choice.Kind))
	r.metrics.SetLoadProgress(100)
	r.metrics.RecordLoad(metrics.ResultSuccess, time.Since(start))
	r.logger.Info("models loaded", "device", choice.Kind, "precision", choice.Precision, "duration", time.Since(start))
	return nil
}

// loadBundle performs the load sequence. Nothing it builds is visible to
// callers until it returns successfully. A panic anywhere in the sequence is
// returned as an error.
func (r *Registry) loadBundle(ctx context.Context) (_ *engine.Bundle, choice device.Choice, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("model load panicked: %v", p)
		}
	}()

	r.tracker.Begin("Selecting compute device")
	r.metrics.SetLoadProgress(pctStart)

	choice = r.selector.Select()
	r.mu.Lock()
	r.choice = choice
	r.selected = true
	r.mu.Unlock()
	r.tracker.SetDevice(choice.String())
	r.advance(pctDevice, fmt.Sprintf("Using %s (%s)", choice.Kind, choice.Precision))

	if err := r.backend.Available(); err != nil {
		return nil, choice, err
	}

	b := &engine.Bundle{}

	r.logger.Info("loading detection model")
	err = loadPair(ctx,
		func(ctx context.Context) (err error) {
			b.Detector, err = r.backend.LoadDetector(ctx)
			return wrap("detector", err)
		},
		func(ctx context.Context) (err error) {
			b.DetectorProcessor, err = r.backend.LoadDetectorProcessor(ctx)
			return wrap("detector processor", err)
		},
	)
	if err != nil {
		return nil, choice, err
	}
	r.advance(pctDetector, "Detection model loaded")

	r.advance(pctRecognizerBase, "Loading recognition model")
	r.logger.Info("loading recognition model")
	err = loadPair(ctx,
		func(ctx context.Context) (err error) {
			b.Recognizer, err = r.backend.LoadRecognizer(ctx)
			return wrap("recognizer", err)
		},
		func(ctx context.Context) (err error) {
			b.RecognizerProcessor, err = r.backend.LoadRecognizerProcessor(ctx)
			return wrap("recognizer processor", err)
		},
	)
	if err != nil {
		return nil, choice, err
	}
	r.advance(pctRecognizer, "Recognition model loaded")

	if err := place(b, choice); err != nil {
		return nil, choice, err
	}
	r.advance(pctPlacement, fmt.Sprintf("Models moved to %s", choice.Kind))

	b.Detector.Eval()
	b.Recognizer.Eval()

	if r.warmup {
		r.advance(pctWarmup, "Warming up models")
		r.runWarmup(ctx, b)
	}
	return b, choice, nil
}

func (r *Registry) advance(pct int, msg string) {
	r.tracker.Advance(pct, msg)
	r.metrics.SetLoadProgress(r.tracker.Get().Progress)
}

// runWarmup runs one throwaway inference. Failures are logged and ignored.
func (r *Registry) runWarmup(ctx context.Context, b *engine.Bundle) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.RecordWarmupFailure()
			r.logger.Warn("warmup panicked (non-critical)", "panic", p)
		}
	}()

	img := image.NewRGBA(image.Rect(0, 0, warmupSize, warmupSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	if _, err := r.backend.DetectAndRecognize(ctx, b, []image.Image{img}, [][]string{r.warmupLangs}); err != nil {
		r.metrics.RecordWarmupFailure()
		r.logger.Warn("warmup failed (non-critical)", "error", err)
		return
	}
	r.logger.Info("models warmed up")
}

// loadPair runs two loads concurrently and returns the first error. A load
// that panics fails with an error instead of taking down the process.
func loadPair(ctx context.Context, fns ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadWorkers)
	for _, fn := range fns {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("load panicked: %v", p)
				}
			}()
			return fn(gctx)
		})
	}
	return g.Wait()
}

// place moves both models to the device, converting to half precision on CUDA.
func place(b *engine.Bundle, choice device.Choice) error {
	for _, m := range []engine.Model{b.Detector, b.Recognizer} {
		if err := m.To(choice); err != nil {
			return fmt.Errorf("failed to move %s to %s: %w", m.Name(), choice.Kind, err)
		}
		if choice.Kind == device.KindCUDA && choice.Precision == device.PrecisionHalf {
			if err := m.Half(); err != nil {
				return fmt.Errorf("failed to convert %s to %s: %w", m.Name(), choice.Precision, err)
			}
		}
	}
	return nil
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
