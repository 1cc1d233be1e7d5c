package dialog

import (
	"strings"
	"time"

	"github.com/MikeSquared-Agency/ally/internal/sentiment"
)

// Session is the per-user conversation state. A Session must never be shared
// between users; stores hand out clones.
type Session struct {
	UserID           string              `json:"user_id"`
	DialogState      State               `json:"dialog_state"`
	SentimentHistory []sentiment.Label   `json:"sentiment_history"`
	MindfulnessStep  int                 `json:"mindfulness_step"`
	Slots            map[string][]string `json:"extracted_slots,omitempty"`
	Upstream         Upstream            `json:"upstream"`
	Version          int64               `json:"version"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Upstream holds the opaque per-user credentials of an upstream dialog service.
type Upstream struct {
	AccessToken string `json:"access_token,omitempty"`
	Dialog      string `json:"dialog,omitempty"`
}

// NewSession returns the state for a user seen for the first time.
func NewSession(userID string) *Session {
	return &Session{
		UserID:           userID,
		DialogState:      SentimentGatheringInitial,
		SentimentHistory: []sentiment.Label{},
		MindfulnessStep:  0,
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.SentimentHistory = append([]sentiment.Label{}, s.SentimentHistory...)
	out.Slots = CloneSlots(s.Slots)
	return &out
}

// Apply returns the session that follows s after r. s is not modified.
func (s *Session) Apply(r Result, slots map[string][]string, now time.Time) *Session {
	next := s.Clone()
	next.DialogState = r.NextState
	next.MindfulnessStep = r.NextMindfulnessStep
	if r.AppendedSentiment != nil {
		next.SentimentHistory = append(next.SentimentHistory, *r.AppendedSentiment)
	}
	next.Slots = CloneSlots(slots)
	next.Version = s.Version + 1
	next.UpdatedAt = now.UTC()
	return next
}

// Resume returns the state a turn reported as reported should run in. Some
// platforms name every mindfulness followup with the same intent, so an
// exercise already further along continues from its stored step.
func (s *Session) Resume(reported State) State {
	if reported == MindfulnessIntro || !reported.mindfulness() || !s.DialogState.mindfulness() {
		return reported
	}
	if at := mindfulnessAt(s.MindfulnessStep); at > reported {
		return at
	}
	return reported
}

func mindfulnessAt(step int) State {
	switch step {
	case 1:
		return MindfulnessFollowup1
	case 2:
		return MindfulnessFollowup2
	case 3:
		return MindfulnessFollowup3
	default:
		return stateInvalid
	}
}

// LatestNonNeutral returns the most recent non-neutral label in the history.
func (s *Session) LatestNonNeutral() (sentiment.Label, bool) {
	for i := len(s.SentimentHistory) - 1; i >= 0; i-- {
		if l := s.SentimentHistory[i]; l != sentiment.Neutral {
			return l, true
		}
	}
	return sentiment.Neutral, false
}

// CloneSlots deep-copies a slot map.
func CloneSlots(slots map[string][]string) map[string][]string {
	if slots == nil {
		return nil
	}
	out := make(map[string][]string, len(slots))
	for k, v := range slots {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Turn is one inbound utterance.
type Turn struct {
	UserID string
	// DialogState is the platform's view of the state. Empty means the
	// stored session state applies.
	DialogState string
	Utterance   string
	Slots       map[string][]string
}

// First returns the first non-empty value of slot name.
func (t Turn) First(name string) (string, bool) {
	for _, v := range t.Slots[name] {
		if v != "" {
			return v, true
		}
	}
	return "", false
}

// Agreed reports whether the RESPONSE slot answers yes.
func (t Turn) Agreed() bool {
	v, _ := t.First(SlotResponse)
	return strings.EqualFold(strings.TrimSpace(v), "yes")
}

// ScoredFragment is a piece of the utterance with its classifier score.
type ScoredFragment struct {
	Text  string
	Score float64
}

// Analysis carries classifier output computed by the caller.
type Analysis struct {
	Sentiment *sentiment.Sentiment
	Fragments []ScoredFragment
}

// Result is the pure output of one reducer step.
type Result struct {
	Text                string
	NextState           State
	NextMindfulnessStep int
	AppendedSentiment   *sentiment.Label
}
