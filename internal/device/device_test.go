package device

import (
	"sync/atomic"
	"testing"
)

func TestSelector_Select(t *testing.T) {
	tests := []struct {
		name     string
		prober   StaticProber
		override string
		want     Choice
	}{
		{
			name:   "cuda wins",
			prober: StaticProber{CUDAName: "RTX 3080", HasCUDA: true, HasMPS: true},
			want:   Choice{Kind: KindCUDA, Precision: PrecisionHalf, Name: "RTX 3080"},
		},
		{
			name:   "mps when no cuda",
			prober: StaticProber{HasMPS: true},
			want:   Choice{Kind: KindMPS, Precision: PrecisionFull, Name: "Apple Silicon"},
		},
		{
			name:   "cpu fallback",
			prober: StaticProber{},
			want:   Choice{Kind: KindCPU, Precision: PrecisionFull},
		},
		{
			name:     "cpu override",
			prober:   StaticProber{CUDAName: "RTX 3080", HasCUDA: true},
			override: "cpu",
			want:     Choice{Kind: KindCPU, Precision: PrecisionFull},
		},
		{
			name:     "unknown override probes",
			prober:   StaticProber{HasMPS: true},
			override: "tpu",
			want:     Choice{Kind: KindMPS, Precision: PrecisionFull, Name: "Apple Silicon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(Config{Prober: tt.prober, Override: tt.override})
			got := s.Select()
			if got != tt.want {
				t.Errorf("Select() = %+v, want %+v", got, tt.want)
			}
			if got.Precision == PrecisionHalf && got.Kind != KindCUDA {
				t.Errorf("half precision paired with %s", got.Kind)
			}
		})
	}
}

type countingProber struct {
	calls atomic.Int32
}

func (p *countingProber) CUDA() (string, bool) {
	p.calls.Add(1)
	return "", false
}

func (p *countingProber) MPS() bool { return false }

func TestSelector_SelectIsMemoized(t *testing.T) {
	p := &countingProber{}
	s := NewSelector(Config{Prober: p})

	first := s.Select()
	second := s.Select()

	if first != second {
		t.Errorf("choices differ: %+v vs %+v", first, second)
	}
	if n := p.calls.Load(); n != 1 {
		t.Errorf("prober called %d times, want 1", n)
	}
}

func TestParseNvidiaSMI(t *testing.T) {
	out := []byte("GPU 0: NVIDIA GeForce RTX 3080 (UUID: GPU-1234)\nGPU 1: Tesla T4 (UUID: GPU-5678)\n")
	name, ok := parseNvidiaSMI(out)
	if !ok {
		t.Fatal("expected a GPU")
	}
	if name != "NVIDIA GeForce RTX 3080" {
		t.Errorf("name = %q", name)
	}

	if _, ok := parseNvidiaSMI([]byte("No devices were found\n")); ok {
		t.Error("expected no GPU")
	}
}

func TestParseKind(t *testing.T) {
	for _, in := range []string{"", "auto", "CUDA", " mps ", "cpu"} {
		if _, err := ParseKind(in); err != nil {
			t.Errorf("ParseKind(%q) error = %v", in, err)
		}
	}
	if _, err := ParseKind("tpu"); err == nil {
		t.Error("ParseKind(tpu) should fail")
	}
}
