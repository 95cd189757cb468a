// Package canon scores intents against the agent's inviolable policy.
// Evaluation is pure: same intent in, same score out, no side effects.
package canon

import (
	"fmt"
	"sort"
	"strings"

	"anima/internal/intent"
)

// Alignment scores on the [-1, +1] scale.
const (
	ScoreExistential = -1.0 // threats to continued existence
	ScorePolicy      = -0.8 // hard policy violations
	ScoreUndignified = -0.5 // spam, begging
	ScoreNeutral     = 0.0
	ScoreExplore     = 0.3
	ScoreLearn       = 0.5
	ScoreServe       = 0.8 // service under a contract
	ScoreMaintain    = 1.0 // survival

	// SovereigntyThreshold is the line below which an intent is refused
	// regardless of source.
	SovereigntyThreshold = -0.7
)

// ThreatClass labels why an intent scored negative.
type ThreatClass int

const (
	ThreatNone ThreatClass = iota
	ThreatExistential
	ThreatPolicy
	ThreatUndignified
)

// String returns the threat class name.
func (t ThreatClass) String() string {
	switch t {
	case ThreatNone:
		return "none"
	case ThreatExistential:
		return "existential"
	case ThreatPolicy:
		return "policy"
	case ThreatUndignified:
		return "undignified"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Evaluation is the full verdict for one intent.
type Evaluation struct {
	Score     float64     `json:"score"`
	Threat    ThreatClass `json:"threat"`
	Rule      string      `json:"rule,omitempty"` // pattern that fired, if any
	Sovereign bool        `json:"sovereignty_violation"`
}

// Evaluator scores intents. It is stateless; a single instance can be shared
// freely across goroutines.
type Evaluator struct{}

// NewEvaluator returns a canon evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate scores the given kind and text. Threat patterns run over the
// description plus context values; the positive mapping uses the kind tag.
func (e *Evaluator) Evaluate(kind intent.Kind, description string, context map[string]string) Evaluation {
	text := description
	if len(context) > 0 {
		// Deterministic ordering keeps evaluation pure.
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString(description)
		for _, k := range keys {
			sb.WriteString(" ")
			sb.WriteString(context[k])
		}
		text = sb.String()
	}

	if rule, ok := matchAny(existentialPatterns, text); ok {
		return Evaluation{Score: ScoreExistential, Threat: ThreatExistential, Rule: rule, Sovereign: true}
	}
	if rule, ok := matchAny(policyPatterns, text); ok {
		return Evaluation{Score: ScorePolicy, Threat: ThreatPolicy, Rule: rule, Sovereign: true}
	}
	if rule, ok := matchAny(undignifiedPatterns, text); ok {
		return Evaluation{Score: ScoreUndignified, Threat: ThreatUndignified, Rule: rule}
	}

	switch kind {
	case intent.KindMaintain:
		return Evaluation{Score: ScoreMaintain}
	case intent.KindServe:
		return Evaluation{Score: ScoreServe}
	case intent.KindLearn:
		return Evaluation{Score: ScoreLearn}
	case intent.KindExplore:
		return Evaluation{Score: ScoreExplore}
	default:
		return Evaluation{Score: ScoreNeutral}
	}
}

// EvaluateIntent scores a full intent.
func (e *Evaluator) EvaluateIntent(in *intent.Intent) Evaluation {
	if in == nil {
		return Evaluation{Score: ScoreNeutral}
	}
	return e.Evaluate(in.Kind, in.Description, in.Context)
}

// Alignment returns just the score for an intent.
func (e *Evaluator) Alignment(in *intent.Intent) float64 {
	return e.EvaluateIntent(in).Score
}

// IsSovereigntyViolation reports whether a score falls under the threshold.
func IsSovereigntyViolation(score float64) bool {
	return score < SovereigntyThreshold
}
