// Package scoring turns a stall's current cleanliness score into the
// simulated outcome of one visit. It is the single source of truth for
// outcome probabilities: both the live motor and the historical seeder
// call the same Generate.
package scoring

import (
	"math/rand"
	"sync"

	"github.com/wctv/backend/internal/model"
)

// Band weights of one uniform roll. The bands partition [0,1).
const (
	invalidBand = 0.03 // confidence forced low, small drift either way
	severeBand  = 0.10 // invalidBand + 7%
	lightBand   = 0.22 // severeBand + 12%, remainder (78%) is ok
)

// Classification thresholds on the post-clamp delta.
const (
	lightThreshold  = -0.10
	severeThreshold = -0.25
)

// Source yields uniform draws in [0,1). *rand.Rand satisfies it; tests
// substitute scripted sources.
type Source interface {
	Float64() float64
}

// Outcome is the result of scoring one visit.
type Outcome struct {
	BeforeScore float64
	AfterScore  float64
	Confidence  float64
	// Delta is the post-clamp difference AfterScore-BeforeScore, which is
	// what every downstream record stores. At the score boundaries it is
	// smaller in magnitude than the drawn delta.
	Delta       float64
	Result      model.Classification
	HasSeverity bool
	Severity    model.Severity
}

// Generator produces visit outcomes from an injected random source.
// Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	src Source
}

func NewGenerator(src Source) *Generator {
	return &Generator{src: src}
}

// NewSeeded returns a Generator over math/rand with the given seed.
func NewSeeded(seed int64) *Generator {
	return NewGenerator(rand.New(rand.NewSource(seed)))
}

// Generate draws one visit outcome for a stall currently at score current.
//
// Draw order is fixed (confidence, band roll, band-specific draws) so that
// a scripted source can force any path. Classification is decided after the
// clamp: a low confidence always yields needs_review and never a trigger;
// otherwise the actual delta picks ok / light / severe.
func (g *Generator) Generate(current float64) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	confidence := 0.60 + g.src.Float64()*0.40

	var delta float64
	roll := g.src.Float64()
	switch {
	case roll < invalidBand:
		confidence = 0.20 + g.src.Float64()*0.39
		delta = g.src.Float64()*0.10 - 0.05
	case roll < severeBand:
		delta = -(0.26 + g.src.Float64()*0.24)
	case roll < lightBand:
		delta = -(0.10 + g.src.Float64()*0.15)
	default:
		delta = g.src.Float64()*0.10 - 0.02
	}

	return Score(current, delta, confidence)
}

// Score applies a drawn delta and confidence to the current score and
// classifies the result. Split out from Generate so tests can exercise
// exact deltas without a random source.
func Score(current, delta, confidence float64) Outcome {
	after := clamp(current+delta, 0, 1)
	actual := after - current

	out := Outcome{
		BeforeScore: current,
		AfterScore:  after,
		Confidence:  confidence,
		Delta:       actual,
	}

	switch {
	case confidence < 0.60:
		out.Result = model.ResultNeedsReview
	case actual > lightThreshold:
		out.Result = model.ResultOK
	case actual >= severeThreshold:
		out.Result = model.ResultLightDeterioration
		out.HasSeverity = true
		out.Severity = model.SeverityLight
	default:
		out.Result = model.ResultSevereDeterioration
		out.HasSeverity = true
		out.Severity = model.SeveritySevere
	}

	return out
}

// StateFor maps an assessment result to the stall state shown on the
// dashboard. needs_review marks the reading invalid rather than changing
// the deterioration level.
func StateFor(result model.Classification) model.StallState {
	switch result {
	case model.ResultNeedsReview:
		return model.StateInvalid
	case model.ResultSevereDeterioration:
		return model.StateSevereDeterioration
	case model.ResultLightDeterioration:
		return model.StateLightDeterioration
	default:
		return model.StateOK
	}
}

// StateForScore maps a bare score to a stall state, used when no assessment
// accompanies the update (seeded history tail).
func StateForScore(score float64) model.StallState {
	switch {
	case score >= 0.80:
		return model.StateOK
	case score >= 0.65:
		return model.StateLightDeterioration
	default:
		return model.StateSevereDeterioration
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
