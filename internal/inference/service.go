// Package inference runs OCR requests against loaded models.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jackzampolin/screenocr/internal/engine"
	"github.com/jackzampolin/screenocr/internal/imaging"
	"github.com/jackzampolin/screenocr/internal/metrics"
)

var (
	// ErrNotLoaded is returned when Run is called before the models are loaded.
	ErrNotLoaded = errors.New("models not loaded")
	// ErrPredictionCount is returned when the engine returns a different number
	// of predictions than images it was given.
	ErrPredictionCount = errors.New("engine returned wrong number of predictions")
)

// Inference kinds, used as metric labels.
const (
	KindSingle = "single"
	KindBatch  = "batch"
)

// Languages is a list of language tags. In JSON it accepts either a single
// string or an array of strings.
type Languages []string

// UnmarshalJSON accepts "en", ["en", "de"] or null.
func (l *Languages) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = Languages{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("langs must be a string or an array of strings")
	}
	*l = many
	return nil
}

// Request is one image to recognize.
type Request struct {
	// Image is base64 image data, optionally as a data URI.
	Image string    `json:"image"`
	Langs Languages `json:"langs,omitempty"`
}

// Result is the recognized text of one image.
type Result struct {
	Text  string `json:"text"`
	Lines int    `json:"lines"`
}

// ModelSource provides loaded models. *models.Registry implements it.
type ModelSource interface {
	Bundle() (*engine.Bundle, bool)
	Backend() engine.Backend
}

// Config configures a Service.
type Config struct {
	Models  ModelSource
	Metrics *metrics.Recorder
	Logger  *slog.Logger
	// MaxConcurrency bounds concurrent engine calls (default: 1).
	MaxConcurrency int
	// DefaultLangs is used when a request names no languages (default: ["en"]).
	DefaultLangs []string
}

// Service decodes images and runs them through the OCR engine.
type Service struct {
	models       ModelSource
	metrics      *metrics.Recorder
	logger       *slog.Logger
	sem          *semaphore.Weighted
	defaultLangs []string
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Models == nil {
		return nil, errors.New("inference: model source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	defaults := normalizeLangs(cfg.DefaultLangs)
	if len(defaults) == 0 {
		defaults = []string{"en"}
	}
	return &Service{
		models:       cfg.Models,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("component", "inference"),
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		defaultLangs: defaults,
	}, nil
}

// DefaultLangs returns the languages used when a request names none.
func (s *Service) DefaultLangs() []string {
	return append([]string(nil), s.defaultLangs...)
}

// Run recognizes a single image.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	results, err := s.infer(ctx, KindSingle, []Request{req})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// RunBatch recognizes every image with one engine call. Every image is decoded
// before the engine runs; the first bad image fails the whole batch. Results
// are in request order.
func (s *Service) RunBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	if len(reqs) == 0 {
		return []Result{}, nil
	}
	return s.infer(ctx, KindBatch, reqs)
}

func (s *Service) infer(ctx context.Context, kind string, reqs []Request) (results []Result, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordInference(kind, len(reqs), time.Since(start), err)
	}()

	bundle, ok := s.models.Bundle()
	if !ok {
		return nil, ErrNotLoaded
	}

	images := make([]image.Image, len(reqs))
	langs := make([][]string, len(reqs))
	for i, req := range reqs {
		img, err := imaging.Decode(req.Image)
		if err != nil {
			if kind == KindBatch {
				return nil, fmt.Errorf("image %d: %w", i, err)
			}
			return nil, err
		}
		images[i] = img
		langs[i] = s.ResolveLangs(req.Langs)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	s.metrics.InFlight(1)
	defer s.metrics.InFlight(-1)

	preds, err := s.models.Backend().DetectAndRecognize(ctx, bundle, images, langs)
	if err != nil {
		s.logger.Error("recognition failed", "kind", kind, "images", len(images), "error", err)
		return nil, err
	}
	if len(preds) != len(images) {
		return nil, fmt.Errorf("%w: got %d for %d images", ErrPredictionCount, len(preds), len(images))
	}

	results = make([]Result, len(preds))
	for i, lines := range preds {
		results[i] = Reduce(lines)
	}
	s.logger.Debug("recognized", "kind", kind, "images", len(images), "duration", time.Since(start))
	return results, nil
}

// ResolveLangs trims and drops blank tags, falling back to the default languages.
func (s *Service) ResolveLangs(langs Languages) []string {
	out := normalizeLangs(langs)
	if len(out) == 0 {
		return s.DefaultLangs()
	}
	return out
}

func normalizeLangs(langs []string) []string {
	var out []string
	for _, l := range langs {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Reduce joins line texts with newlines. Line breaks inside a line are folded
// to spaces so Lines always equals the number of newline-separated segments.
func Reduce(lines []engine.TextLine) Result {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = foldNewlines.Replace(l.Text)
	}
	return Result{Text: strings.Join(texts, "\n"), Lines: len(lines)}
}

var foldNewlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
