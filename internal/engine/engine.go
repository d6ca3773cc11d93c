// Package engine defines the text detection and recognition capability that the
// model registry loads and the inference service calls.
//
// A Backend supplies four loadable pieces (detector, detector preprocessor,
// recognizer, recognizer preprocessor) and runs detection plus recognition over
// a batch of images once those pieces are loaded into a Bundle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackzampolin/screenocr/internal/device"
)

// ErrMissingDependency is returned when the OCR library behind a backend is not
// installed or was not compiled in.
var ErrMissingDependency = errors.New("ocr engine dependency missing")

// TextLine is one recognized line of text.
type TextLine struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence,omitempty"`
	Bounds     image.Rectangle `json:"-"`
}

// Model is a loaded network handle.
type Model interface {
	// Name identifies the model (e.g. "detector").
	Name() string
	// To places the model on a device.
	To(choice device.Choice) error
	// Half converts the model to half precision.
	Half() error
	// Eval switches the model to inference mode.
	Eval()
}

// Processor prepares inputs for, or decodes outputs from, a Model.
type Processor interface {
	Name() string
}

// Bundle holds the four loaded pieces. All four are set, or the bundle is not used.
type Bundle struct {
	Detector            Model
	DetectorProcessor   Processor
	Recognizer          Model
	RecognizerProcessor Processor
}

// Complete reports whether every piece is present.
func (b *Bundle) Complete() bool {
	return b != nil &&
		b.Detector != nil && b.DetectorProcessor != nil &&
		b.Recognizer != nil && b.RecognizerProcessor != nil
}

// Backend is an OCR implementation.
type Backend interface {
	// Name returns the backend identifier reported by /health.
	Name() string

	// Available returns ErrMissingDependency (wrapped) when the backend's
	// library cannot be used.
	Available() error

	LoadDetector(ctx context.Context) (Model, error)
	LoadDetectorProcessor(ctx context.Context) (Processor, error)
	LoadRecognizer(ctx context.Context) (Model, error)
	LoadRecognizerProcessor(ctx context.Context) (Processor, error)

	// DetectAndRecognize runs OCR over images. langs[i] holds the language tags
	// for images[i]. The result has one entry per image, in input order.
	DetectAndRecognize(ctx context.Context, b *Bundle, images []image.Image, langs [][]string) ([][]TextLine, error)
}

// Config holds settings shared by all backends.
type Config struct {
	// CacheDir is where model weights and language data are stored.
	CacheDir string
	Logger   *slog.Logger
}

// Factory constructs a backend.
type Factory func(cfg Config) (Backend, error)

var factories = map[string]Factory{}

// Register makes a backend available to New under name.
func Register(name string, f Factory) {
	factories[name] = f
}

// New constructs the named backend.
func New(name string, cfg Config) (Backend, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	f, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown OCR engine %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

// Names returns registered backend names, sorted.
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
