package dialog

import "strings"

// FragmentMode says how an utterance is split before scoring.
type FragmentMode int

const (
	FragmentNone FragmentMode = iota
	FragmentSentences
	FragmentWords
)

// Requirement describes the classifier work a state needs before reducing.
type Requirement struct {
	Sentiment bool
	// Fragments are only scored when the utterance itself is not neutral.
	Fragments FragmentMode
}

// Requirements returns what the caller must compute for state.
func Requirements(state State) Requirement {
	switch state {
	case SentimentGatheringInitial, SentimentGatheringFollowup, GeneralConvo:
		return Requirement{Sentiment: true}
	case MindfulnessFollowup1:
		return Requirement{Sentiment: true, Fragments: FragmentSentences}
	case MindfulnessFollowup2:
		return Requirement{Sentiment: true, Fragments: FragmentWords}
	default:
		return Requirement{}
	}
}

// SplitFragments splits utterance into sentences (on '.') or words (on
// whitespace). Empty pieces are dropped.
func SplitFragments(utterance string, mode FragmentMode) []string {
	var parts []string
	switch mode {
	case FragmentSentences:
		parts = strings.Split(utterance, ".")
	case FragmentWords:
		parts = strings.Fields(utterance)
	default:
		return nil
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SelectFragment returns the fragment with the strictly highest score.
// Ties keep the first fragment in utterance order.
func SelectFragment(fragments []ScoredFragment) (ScoredFragment, bool) {
	if len(fragments) == 0 {
		return ScoredFragment{}, false
	}
	best := fragments[0]
	for _, f := range fragments[1:] {
		if f.Score > best.Score {
			best = f
		}
	}
	return best, true
}
