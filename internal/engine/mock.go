package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/screenocr/internal/device"
)

const MockBackendName = "mock"

func init() {
	Register(MockBackendName, func(cfg Config) (Backend, error) {
		return NewMockBackend(), nil
	})
}

// MockBackend is a deterministic Backend for tests and for running the server
// without an OCR library.
//
// For each image it returns three lines: the image size, the language tags,
// and a hash of the pixel data. Identical pixels always give identical text.
type MockBackend struct {
	// Configurable behavior
	LoadLatency time.Duration
	Missing     bool

	mu           sync.Mutex
	loadErr      error
	recognizeErr error
	linesFn      func(img image.Image, langs []string) []TextLine

	// State
	loadCalls      atomic.Int64
	recognizeCalls atomic.Int64
	imagesSeen     atomic.Int64
	models         []*MockModel
}

// NewMockBackend creates a mock backend with no configured failures.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Name returns the backend identifier.
func (m *MockBackend) Name() string {
	return MockBackendName
}

// SetLoadErr makes every Load* call fail with err (nil clears it).
func (m *MockBackend) SetLoadErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// SetRecognizeErr makes DetectAndRecognize fail with err (nil clears it).
func (m *MockBackend) SetRecognizeErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recognizeErr = err
}

// SetLines overrides the per-image output.
func (m *MockBackend) SetLines(fn func(img image.Image, langs []string) []TextLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linesFn = fn
}

// Available reports ErrMissingDependency when Missing is set.
func (m *MockBackend) Available() error {
	if m.Missing {
		return fmt.Errorf("mock engine: %w", ErrMissingDependency)
	}
	return nil
}

// LoadCalls returns how many times the detector was loaded (one per load attempt).
func (m *MockBackend) LoadCalls() int64 { return m.loadCalls.Load() }

// RecognizeCalls returns how many times DetectAndRecognize was called.
func (m *MockBackend) RecognizeCalls() int64 { return m.recognizeCalls.Load() }

// ImagesSeen returns the total number of images passed to DetectAndRecognize.
func (m *MockBackend) ImagesSeen() int64 { return m.imagesSeen.Load() }

// Models returns every model the backend has loaded.
func (m *MockBackend) Models() []*MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockModel, len(m.models))
	copy(out, m.models)
	return out
}

func (m *MockBackend) LoadDetector(ctx context.Context) (Model, error) {
	m.loadCalls.Add(1)
	return m.loadModel(ctx, "detector")
}

func (m *MockBackend) LoadDetectorProcessor(ctx context.Context) (Processor, error) {
	if err := m.simulateLoad(ctx); err != nil {
		return nil, err
	}
	return mockProcessor("detector-processor"), nil
}

func (m *MockBackend) LoadRecognizer(ctx context.Context) (Model, error) {
	return m.loadModel(ctx, "recognizer")
}

func (m *MockBackend) LoadRecognizerProcessor(ctx context.Context) (Processor, error) {
	if err := m.simulateLoad(ctx); err != nil {
		return nil, err
	}
	return mockProcessor("recognizer-processor"), nil
}

func (m *MockBackend) loadModel(ctx context.Context, name string) (Model, error) {
	if err := m.simulateLoad(ctx); err != nil {
		return nil, err
	}
	model := &MockModel{name: name}
	m.mu.Lock()
	m.models = append(m.models, model)
	m.mu.Unlock()
	return model, nil
}

func (m *MockBackend) simulateLoad(ctx context.Context) error {
	if m.LoadLatency > 0 {
		select {
		case <-time.After(m.LoadLatency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadErr
}

// DetectAndRecognize returns deterministic lines for each image.
func (m *MockBackend) DetectAndRecognize(ctx context.Context, b *Bundle, images []image.Image, langs [][]string) ([][]TextLine, error) {
	m.recognizeCalls.Add(1)
	m.imagesSeen.Add(int64(len(images)))

	if !b.Complete() {
		return nil, fmt.Errorf("mock engine: models not loaded")
	}
	if len(images) != len(langs) {
		return nil, fmt.Errorf("mock engine: %d images but %d language lists", len(images), len(langs))
	}

	m.mu.Lock()
	err := m.recognizeErr
	fn := m.linesFn
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if fn == nil {
		fn = describeImage
	}

	out := make([][]TextLine, len(images))
	for i, img := range images {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = fn(img, langs[i])
	}
	return out, nil
}

func describeImage(img image.Image, langs []string) []TextLine {
	bounds := img.Bounds()
	h := fnv.New32a()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			h.Write([]byte{byte(r >> 8), byte(g >> 8), byte(b >> 8), byte(a >> 8)})
		}
	}
	return []TextLine{
		{Text: fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()), Confidence: 1},
		{Text: "langs=" + strings.Join(langs, ","), Confidence: 1},
		{Text: fmt.Sprintf("pixels=%08x", h.Sum32()), Confidence: 1},
	}
}

// MockModel records placement calls.
type MockModel struct {
	name string

	mu     sync.Mutex
	device device.Choice
	half   bool
	eval   bool
}

func (m *MockModel) Name() string { return m.name }

func (m *MockModel) To(choice device.Choice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = choice
	return nil
}

func (m *MockModel) Half() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.half = true
	return nil
}

func (m *MockModel) Eval() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eval = true
}

// Placement returns the device the model was moved to and its precision/mode flags.
func (m *MockModel) Placement() (choice device.Choice, half, eval bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device, m.half, m.eval
}

type mockProcessor string

func (p mockProcessor) Name() string { return string(p) }

// Verify interface
var _ Backend = (*MockBackend)(nil)
