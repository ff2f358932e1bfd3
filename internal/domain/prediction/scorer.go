package prediction

import "time"

// Scorer recomputes a prediction's current score after a tracking pass.
// The exact weighting is a judgment call that belongs to whoever deploys
// the pipeline, so it is injected rather than fixed; the only contract is
// that history stays append-only and current_score is derived from it.
type Scorer func(p *Prediction, observed float64, now time.Time) float64

const (
	// blendWeight is how far one corroborating observation pulls the
	// current score toward the observed signal.
	blendWeight = 0.3
	// decayGrace is how long a prediction may sit untracked before
	// silence starts costing it.
	decayGrace = 14 * 24 * time.Hour
	// decayPerWeek is the multiplier applied per full silent week past
	// the grace window.
	decayPerWeek = 0.9
)

// DefaultScorer is a conservative blend: each observation pulls the score
// toward the observed signal, and silence past a two-week grace window
// decays it. Scores are clamped to [0,1].
func DefaultScorer(p *Prediction, observed float64, now time.Time) float64 {
	score := p.CurrentScore

	if p.LastTracked != nil {
		idle := now.Sub(*p.LastTracked) - decayGrace
		for idle >= 7*24*time.Hour {
			score *= decayPerWeek
			idle -= 7 * 24 * time.Hour
		}
	}

	score = score*(1-blendWeight) + observed*blendWeight

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
