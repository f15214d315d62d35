package scoring

import (
	"math/rand"
	"testing"

	"github.com/wctv/backend/internal/model"
)

// scriptSource replays a fixed sequence of draws, letting tests force any
// path through Generate. Draw order: confidence, band roll, band draw(s).
type scriptSource struct {
	draws []float64
	i     int
}

func (s *scriptSource) Float64() float64 {
	if s.i >= len(s.draws) {
		panic("script exhausted")
	}
	v := s.draws[s.i]
	s.i++
	return v
}

func TestScoreClassification(t *testing.T) {
	tests := []struct {
		name        string
		current     float64
		delta       float64
		confidence  float64
		wantAfter   float64
		wantResult  model.Classification
		wantTrigger bool
		wantSev     model.Severity
	}{
		{
			name: "SevereScenario", current: 0.90, delta: -0.30, confidence: 0.95,
			wantAfter: 0.60, wantResult: model.ResultSevereDeterioration,
			wantTrigger: true, wantSev: model.SeveritySevere,
		},
		{
			name: "LightLowerBoundary", current: 0.75, delta: -0.25, confidence: 0.80,
			wantAfter: 0.50, wantResult: model.ResultLightDeterioration,
			wantTrigger: true, wantSev: model.SeverityLight,
		},
		{
			name: "LightRange", current: 0.75, delta: -0.125, confidence: 0.80,
			wantAfter: 0.625, wantResult: model.ResultLightDeterioration,
			wantTrigger: true, wantSev: model.SeverityLight,
		},
		{
			name: "SmallDropIsOK", current: 0.80, delta: -0.09, confidence: 0.80,
			wantAfter: 0.71, wantResult: model.ResultOK, wantTrigger: false,
		},
		{
			name: "ImprovementIsOK", current: 0.80, delta: 0.05, confidence: 0.80,
			wantAfter: 0.85, wantResult: model.ResultOK, wantTrigger: false,
		},
		{
			name: "LowConfidenceGatesEverything", current: 0.90, delta: -0.40, confidence: 0.59,
			wantAfter: 0.50, wantResult: model.ResultNeedsReview, wantTrigger: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Score(tt.current, tt.delta, tt.confidence)
			if !approx(out.AfterScore, tt.wantAfter) {
				t.Errorf("AfterScore = %v, want %v", out.AfterScore, tt.wantAfter)
			}
			if out.Result != tt.wantResult {
				t.Errorf("Result = %v, want %v", out.Result, tt.wantResult)
			}
			if out.HasSeverity != tt.wantTrigger {
				t.Errorf("HasSeverity = %v, want %v", out.HasSeverity, tt.wantTrigger)
			}
			if tt.wantTrigger && out.Severity != tt.wantSev {
				t.Errorf("Severity = %v, want %v", out.Severity, tt.wantSev)
			}
		})
	}
}

// The delta written downstream is the post-clamp difference, which shrinks
// at the score boundaries. A big drawn drop on an already-filthy stall is
// not a deterioration.
func TestScoreClampsAtBoundaries(t *testing.T) {
	out := Score(0.05, -0.40, 0.90)
	if out.AfterScore != 0 {
		t.Fatalf("AfterScore = %v, want 0", out.AfterScore)
	}
	if !approx(out.Delta, -0.05) {
		t.Errorf("Delta = %v, want -0.05", out.Delta)
	}
	if out.Result != model.ResultOK {
		t.Errorf("Result = %v, want ok (post-clamp delta above threshold)", out.Result)
	}

	out = Score(0.98, 0.07, 0.90)
	if out.AfterScore != 1 {
		t.Fatalf("AfterScore = %v, want 1", out.AfterScore)
	}
	if !approx(out.Delta, 0.02) {
		t.Errorf("Delta = %v, want 0.02", out.Delta)
	}
}

func TestGenerateAfterScoreAlwaysInRange(t *testing.T) {
	gen := NewSeeded(42)
	for _, current := range []float64{0, 0.01, 0.25, 0.5, 0.75, 0.99, 1} {
		for i := 0; i < 2000; i++ {
			out := gen.Generate(current)
			if out.AfterScore < 0 || out.AfterScore > 1 {
				t.Fatalf("Generate(%v): AfterScore %v outside [0,1]", current, out.AfterScore)
			}
			if out.BeforeScore != current {
				t.Fatalf("BeforeScore = %v, want %v", out.BeforeScore, current)
			}
		}
	}
}

// With a mid-range score no draw is clamped, so observed classification
// frequencies should converge to the configured band weights
// (0.03 / 0.07 / 0.12 / 0.78).
func TestGenerateBandFrequencies(t *testing.T) {
	gen := NewSeeded(1)
	const n = 100000

	counts := map[model.Classification]int{}
	for i := 0; i < n; i++ {
		counts[gen.Generate(0.5).Result]++
	}

	want := map[model.Classification]float64{
		model.ResultNeedsReview:         0.03,
		model.ResultSevereDeterioration: 0.07,
		model.ResultLightDeterioration:  0.12,
		model.ResultOK:                  0.78,
	}
	for result, expected := range want {
		got := float64(counts[result]) / n
		if got < expected-0.02 || got > expected+0.02 {
			t.Errorf("frequency of %v = %.4f, want %.2f±0.02", result, got, expected)
		}
	}
}

func TestGenerateScriptedInvalidBand(t *testing.T) {
	src := &scriptSource{draws: []float64{
		0.5,  // initial confidence -> 0.80, discarded by the invalid band
		0.01, // band roll -> invalid
		0.5,  // confidence redraw -> 0.20 + 0.195 = 0.395
		0.5,  // delta draw -> 0.0
	}}
	out := NewGenerator(src).Generate(0.70)

	if out.Result != model.ResultNeedsReview {
		t.Errorf("Result = %v, want needs_review", out.Result)
	}
	if !approx(out.Confidence, 0.395) {
		t.Errorf("Confidence = %v, want 0.395", out.Confidence)
	}
	if out.HasSeverity {
		t.Error("invalid band must not raise a trigger")
	}
}

func TestGenerateScriptedSevereBand(t *testing.T) {
	src := &scriptSource{draws: []float64{
		0.875, // confidence -> 0.95
		0.05,  // band roll -> severe
		0.5,   // delta draw -> -(0.26 + 0.12) = -0.38
	}}
	out := NewGenerator(src).Generate(0.90)

	if !approx(out.AfterScore, 0.52) {
		t.Errorf("AfterScore = %v, want 0.52", out.AfterScore)
	}
	if out.Result != model.ResultSevereDeterioration {
		t.Errorf("Result = %v, want severe_deterioration", out.Result)
	}
	if !out.HasSeverity || out.Severity != model.SeveritySevere {
		t.Errorf("severity = (%v, %v), want severe trigger", out.HasSeverity, out.Severity)
	}
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		result model.Classification
		want   model.StallState
	}{
		{model.ResultOK, model.StateOK},
		{model.ResultLightDeterioration, model.StateLightDeterioration},
		{model.ResultSevereDeterioration, model.StateSevereDeterioration},
		{model.ResultNeedsReview, model.StateInvalid},
	}
	for _, tt := range tests {
		if got := StateFor(tt.result); got != tt.want {
			t.Errorf("StateFor(%v) = %v, want %v", tt.result, got, tt.want)
		}
	}
}

func TestStateForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  model.StallState
	}{
		{0.92, model.StateOK},
		{0.80, model.StateOK},
		{0.79, model.StateLightDeterioration},
		{0.65, model.StateLightDeterioration},
		{0.64, model.StateSevereDeterioration},
		{0, model.StateSevereDeterioration},
	}
	for _, tt := range tests {
		if got := StateForScore(tt.score); got != tt.want {
			t.Errorf("StateForScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestGeneratorIsDeterministicPerSeed(t *testing.T) {
	a := NewGenerator(rand.New(rand.NewSource(7)))
	b := NewGenerator(rand.New(rand.NewSource(7)))
	for i := 0; i < 100; i++ {
		if a.Generate(0.5) != b.Generate(0.5) {
			t.Fatal("same seed produced diverging outcomes")
		}
	}
}

func approx(a, b float64) bool {
	const eps = 1e-9
	return a-b < eps && b-a < eps
}
