package sentiment

import (
	"context"
	"slices"
	"strings"
)

// Label is a discrete emotion category.
type Label string

const (
	Joy     Label = "joy"
	Anger   Label = "anger"
	Fear    Label = "fear"
	Sadness Label = "sadness"
	Disgust Label = "disgust"
	Neutral Label = "neutral"
)

// Labels lists every valid label.
var Labels = []Label{Joy, Anger, Fear, Sadness, Disgust, Neutral}

// Valid reports whether l belongs to the fixed label set.
func (l Label) Valid() bool {
	return slices.Contains(Labels, l)
}

// Negative reports whether l is one of anger, fear, sadness or disgust.
func (l Label) Negative() bool {
	switch l {
	case Anger, Fear, Sadness, Disgust:
		return true
	default:
		return false
	}
}

// Sentiment is a classified utterance.
type Sentiment struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Score is one raw tone returned by an analyzer.
type Score struct {
	Tone  string  `json:"tone_id"`
	Score float64 `json:"score"`
}

// Classifier turns an utterance into a Sentiment.
type Classifier interface {
	Classify(ctx context.Context, text string) (Sentiment, error)
}

// Scorer rates how emotional text is, with no threshold applied.
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// Strongest returns the highest score among tones that map to a non-neutral
// label, or 0 when there are none.
func Strongest(scores []Score) float64 {
	best := 0.0
	for _, s := range scores {
		l := Label(strings.ToLower(strings.TrimSpace(s.Tone)))
		if !l.Valid() || l == Neutral {
			continue
		}
		best = max(best, clamp(s.Score))
	}
	return best
}

// Pick selects the highest-scoring tone that maps to a valid label.
// Equal scores keep the first tone seen. When no valid tone reaches
// minScore (and is positive), the result is Neutral with zero confidence.
func Pick(scores []Score, minScore float64) Sentiment {
	best := Sentiment{Label: Neutral}
	found := false
	for _, s := range scores {
		l := Label(strings.ToLower(strings.TrimSpace(s.Tone)))
		if !l.Valid() || l == Neutral {
			continue
		}
		if s.Score <= 0 || s.Score < minScore {
			continue
		}
		if !found || s.Score > best.Confidence {
			best = Sentiment{Label: l, Confidence: clamp(s.Score)}
			found = true
		}
	}
	return best
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
