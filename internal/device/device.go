// Package device picks the compute backend that OCR models are placed on.
package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Kind identifies a compute backend.
type Kind string

const (
	// KindCUDA is an NVIDIA GPU.
	KindCUDA Kind = "cuda"
	// KindMPS is an Apple Silicon unified-memory GPU.
	KindMPS Kind = "mps"
	// KindCPU is the fallback when no accelerator is present.
	KindCPU Kind = "cpu"
)

// Precision is the numeric width used for model weights and activations.
type Precision string

const (
	PrecisionHalf Precision = "float16"
	PrecisionFull Precision = "float32"
)

// Override values accepted by Config.Override.
const (
	OverrideAuto = "auto"
)

// Choice is the selected device and precision.
// PrecisionHalf is only ever paired with KindCUDA.
type Choice struct {
	Kind      Kind      `json:"kind"`
	Precision Precision `json:"precision"`
	// Name is a human-readable accelerator name when one is known (e.g. the GPU model).
	Name string `json:"name,omitempty"`
}

// String returns the device kind, matching what /health reports.
func (c Choice) String() string {
	return string(c.Kind)
}

// IsAccelerator reports whether the choice is a non-CPU device.
func (c Choice) IsAccelerator() bool {
	return c.Kind == KindCUDA || c.Kind == KindMPS
}

// Prober reports which accelerators the runtime environment exposes.
type Prober interface {
	// CUDA returns the name of the first CUDA device and whether one is present.
	CUDA() (name string, ok bool)
	// MPS reports whether an Apple Silicon GPU is present.
	MPS() bool
}

// Config configures a Selector.
type Config struct {
	// Prober probes the environment (default: SystemProber).
	Prober Prober
	// Override forces a device kind: "auto" (default), "cuda", "mps" or "cpu".
	Override string
	// Logger receives device diagnostics.
	Logger *slog.Logger
}

// Selector chooses a device once per process. The first Select call probes the
// environment; every later call returns the same Choice.
type Selector struct {
	prober   Prober
	override string
	logger   *slog.Logger
	selectFn func() Choice
}

// NewSelector creates a Selector.
func NewSelector(cfg Config) *Selector {
	if cfg.Prober == nil {
		cfg.Prober = SystemProber{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	override := strings.ToLower(strings.TrimSpace(cfg.Override))
	if override == "" {
		override = OverrideAuto
	}

	s := &Selector{
		prober:   cfg.Prober,
		override: override,
		logger:   cfg.Logger.With("component", "device"),
	}
	s.selectFn = sync.OnceValue(s.probe)
	return s
}

// Select returns the device choice, probing on first use.
func (s *Selector) Select() Choice {
	return s.selectFn()
}

// probe applies the preference order: CUDA, then MPS, then CPU.
func (s *Selector) probe() Choice {
	switch Kind(s.override) {
	case KindCUDA:
		name, _ := s.prober.CUDA()
		return s.report(Choice{Kind: KindCUDA, Precision: PrecisionHalf, Name: name}, true)
	case KindMPS:
		return s.report(Choice{Kind: KindMPS, Precision: PrecisionFull, Name: "Apple Silicon"}, true)
	case KindCPU:
		return s.report(Choice{Kind: KindCPU, Precision: PrecisionFull}, true)
	}
	if s.override != OverrideAuto {
		s.logger.Warn("unknown device override, probing instead", "override", s.override)
	}

	if name, ok := s.prober.CUDA(); ok {
		return s.report(Choice{Kind: KindCUDA, Precision: PrecisionHalf, Name: name}, false)
	}
	if s.prober.MPS() {
		return s.report(Choice{Kind: KindMPS, Precision: PrecisionFull, Name: "Apple Silicon"}, false)
	}
	return s.report(Choice{Kind: KindCPU, Precision: PrecisionFull}, false)
}

func (s *Selector) report(c Choice, forced bool) Choice {
	switch c.Kind {
	case KindCUDA:
		s.logger.Info("using CUDA GPU", "gpu", c.Name, "precision", c.Precision, "forced", forced)
	case KindMPS:
		s.logger.Info("using Apple Silicon GPU", "precision", c.Precision, "forced", forced)
	default:
		s.logger.Info("no GPU detected, using CPU", "precision", c.Precision, "forced", forced)
	}
	return c
}

// SystemProber probes the host for accelerators.
type SystemProber struct{}

// CUDA looks for an NVIDIA driver and asks nvidia-smi for the first GPU name.
func (SystemProber) CUDA() (string, bool) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		if _, statErr := os.Stat("/proc/driver/nvidia/version"); statErr == nil {
			return "NVIDIA GPU", true
		}
		return "", false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-L").Output()
	if err != nil {
		return "", false
	}
	return parseNvidiaSMI(out)
}

// MPS reports true on darwin/arm64.
func (SystemProber) MPS() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// parseNvidiaSMI extracts the first GPU name from `nvidia-smi -L` output:
//
//	GPU 0: NVIDIA GeForce RTX 3080 (UUID: GPU-...)
func parseNvidiaSMI(out []byte) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "GPU ") {
			continue
		}
		_, rest, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		if i := strings.Index(rest, " (UUID"); i >= 0 {
			rest = rest[:i]
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// StaticProber reports a fixed environment.
type StaticProber struct {
	CUDAName string
	HasCUDA  bool
	HasMPS   bool
}

func (p StaticProber) CUDA() (string, bool) { return p.CUDAName, p.HasCUDA }
func (p StaticProber) MPS() bool            { return p.HasMPS }

// ParseKind validates a device override string.
func ParseKind(s string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", OverrideAuto:
		return OverrideAuto, nil
	case string(KindCUDA), string(KindMPS), string(KindCPU):
		return v, nil
	default:
		return "", fmt.Errorf("unknown device %q (want auto, cuda, mps or cpu)", s)
	}
}
