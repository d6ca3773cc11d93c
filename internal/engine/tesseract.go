//go:build cgo && ocr

package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/jackzampolin/screenocr/internal/device"
)

func init() {
	Register(TesseractBackendName, NewTesseractBackend)
}

// TesseractBackend runs OCR with libtesseract through gosseract.
// The detector is tesseract's layout analysis (text-line iteration) and the
// recognizer is its LSTM model over the selected traineddata.
type TesseractBackend struct {
	tessdata string
	logger   *slog.Logger
}

// NewTesseractBackend creates the backend. Traineddata is read from
// <CacheDir>/tessdata when that directory exists, else from the system default.
func NewTesseractBackend(cfg Config) (Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &TesseractBackend{logger: logger.With("engine", TesseractBackendName)}
	if cfg.CacheDir != "" {
		dir := filepath.Join(cfg.CacheDir, "tessdata")
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			b.tessdata = dir
		}
	}
	return b, nil
}

func (b *TesseractBackend) Name() string { return TesseractBackendName }

// Available checks that libtesseract answers.
func (b *TesseractBackend) Available() error {
	c := gosseract.NewClient()
	defer c.Close()
	if c.Version() == "" {
		return fmt.Errorf("libtesseract did not report a version: %w", ErrMissingDependency)
	}
	return nil
}

func (b *TesseractBackend) LoadDetector(ctx context.Context) (Model, error) {
	c := gosseract.NewClient()
	defer c.Close()
	version := c.Version()
	b.logger.Info("tesseract detector ready", "version", version)
	return &tessModel{name: "detector", logger: b.logger}, nil
}

func (b *TesseractBackend) LoadDetectorProcessor(ctx context.Context) (Processor, error) {
	return pngProcessor{}, nil
}

func (b *TesseractBackend) LoadRecognizer(ctx context.Context) (Model, error) {
	return &tessModel{name: "recognizer", logger: b.logger}, nil
}

// LoadRecognizerProcessor scans the traineddata directory so unknown languages
// can be reported before inference.
func (b *TesseractBackend) LoadRecognizerProcessor(ctx context.Context) (Processor, error) {
	p := &langProcessor{tessdata: b.tessdata}
	if b.tessdata == "" {
		return p, nil
	}
	entries, err := os.ReadDir(b.tessdata)
	if err != nil {
		return nil, fmt.Errorf("failed to read tessdata: %w", err)
	}
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".traineddata"); ok {
			p.installed = append(p.installed, name)
		}
	}
	sort.Strings(p.installed)
	b.logger.Info("tesseract language data found", "dir", b.tessdata, "languages", p.installed)
	return p, nil
}

// DetectAndRecognize runs tesseract over each image in order.
func (b *TesseractBackend) DetectAndRecognize(ctx context.Context, bundle *Bundle, images []image.Image, langs [][]string) ([][]TextLine, error) {
	if !bundle.Complete() {
		return nil, fmt.Errorf("tesseract: models not loaded")
	}
	if len(images) != len(langs) {
		return nil, fmt.Errorf("tesseract: %d images but %d language lists", len(images), len(langs))
	}
	enc, _ := bundle.DetectorProcessor.(pngProcessor)
	lp, _ := bundle.RecognizerProcessor.(*langProcessor)

	out := make([][]TextLine, len(images))
	for i, img := range images {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		data, err := enc.encode(img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		resolved, err := lp.resolve(langs[i])
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		lines, err := b.recognize(data, resolved)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out[i] = lines
	}
	return out, nil
}

func (b *TesseractBackend) recognize(data []byte, langs []string) ([]TextLine, error) {
	c := gosseract.NewClient()
	defer c.Close()

	if b.tessdata != "" {
		if err := c.SetTessdataPrefix(b.tessdata); err != nil {
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(langs...); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return nil, fmt.Errorf("set page segmentation: %w", err)
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	lines := make([]TextLine, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		lines = append(lines, TextLine{
			Text:       text,
			Confidence: box.Confidence / 100.0,
			Bounds:     box.Box,
		})
	}
	return lines, nil
}

// tessModel is a placement record; libtesseract always runs on the CPU.
type tessModel struct {
	name   string
	logger *slog.Logger
	device device.Choice
}

func (m *tessModel) Name() string { return m.name }

func (m *tessModel) To(choice device.Choice) error {
	m.device = choice
	if choice.IsAccelerator() {
		m.logger.Info("tesseract runs on the CPU, accelerator placement recorded only",
			"model", m.name, "device", choice.Kind)
	}
	return nil
}

func (m *tessModel) Half() error { return nil }
func (m *tessModel) Eval()       {}

// pngProcessor encodes images for SetImageFromBytes.
type pngProcessor struct{}

func (pngProcessor) Name() string { return "png-encoder" }

func (pngProcessor) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Verify interface
var _ Backend = (*TesseractBackend)(nil)
