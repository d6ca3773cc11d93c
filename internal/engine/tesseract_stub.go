//go:build !cgo || !ocr

package engine

import (
	"context"
	"fmt"
	"image"
)

func init() {
	Register(TesseractBackendName, NewTesseractBackend)
}

// TesseractBackend is a stub for builds without cgo or the "ocr" tag.
// Every load fails with ErrMissingDependency.
type TesseractBackend struct{}

// NewTesseractBackend creates the stub backend.
func NewTesseractBackend(cfg Config) (Backend, error) {
	return &TesseractBackend{}, nil
}

func (b *TesseractBackend) Name() string { return TesseractBackendName }

func (b *TesseractBackend) Available() error {
	return fmt.Errorf("tesseract support not compiled in (build with CGO_ENABLED=1 -tags ocr): %w", ErrMissingDependency)
}

func (b *TesseractBackend) LoadDetector(ctx context.Context) (Model, error) {
	return nil, b.Available()
}

func (b *TesseractBackend) LoadDetectorProcessor(ctx context.Context) (Processor, error) {
	return nil, b.Available()
}

func (b *TesseractBackend) LoadRecognizer(ctx context.Context) (Model, error) {
	return nil, b.Available()
}

func (b *TesseractBackend) LoadRecognizerProcessor(ctx context.Context) (Processor, error) {
	return nil, b.Available()
}

func (b *TesseractBackend) DetectAndRecognize(ctx context.Context, bundle *Bundle, images []image.Image, langs [][]string) ([][]TextLine, error) {
	return nil, b.Available()
}

// Verify interface
var _ Backend = (*TesseractBackend)(nil)
