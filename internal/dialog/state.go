package dialog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownState is returned for a dialog state outside the enumeration.
var ErrUnknownState = errors.New("unknown dialog state")

// State is the phase of the scripted conversation a user is in.
type State int

const (
	stateInvalid State = iota
	SentimentGatheringInitial
	SentimentGatheringFollowup
	Breathing
	MindfulnessIntro
	MindfulnessFollowup1
	MindfulnessFollowup2
	MindfulnessFollowup3
	StudentIssue
	StudentIssueExam
	StudentIssueHomework
	StudentIssueCourse
	StudentIssueGrades
	PanicAffirm
	GeneralConvo
	Done
	Welcome
	IntroExplanation
	stateSentinel
)

var stateNames = [...]string{
	SentimentGatheringInitial:  "SentimentGatheringInitial",
	SentimentGatheringFollowup: "SentimentGatheringFollowup",
	Breathing:                  "Breathing",
	MindfulnessIntro:           "MindfulnessIntro",
	MindfulnessFollowup1:       "MindfulnessFollowup1",
	MindfulnessFollowup2:       "MindfulnessFollowup2",
	MindfulnessFollowup3:       "MindfulnessFollowup3",
	StudentIssue:               "StudentIssue",
	StudentIssueExam:           "StudentIssueExam",
	StudentIssueHomework:       "StudentIssueHomework",
	StudentIssueCourse:         "StudentIssueCourse",
	StudentIssueGrades:         "StudentIssueGrades",
	PanicAffirm:                "PanicAffirm",
	GeneralConvo:               "GeneralConvo",
	Done:                       "Done",
	Welcome:                    "Welcome",
	IntroExplanation:           "IntroExplanation",
}

// States lists every valid state in declaration order.
func States() []State {
	out := make([]State, 0, int(stateSentinel)-1)
	for s := SentimentGatheringInitial; s < stateSentinel; s++ {
		out = append(out, s)
	}
	return out
}

// Valid reports whether s is a member of the enumeration.
func (s State) Valid() bool {
	return s > stateInvalid && s < stateSentinel
}

func (s State) String() string {
	if !s.Valid() {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Key is the snake_case form used by platforms that name states in lower case,
// e.g. "mindfulness_followup1".
func (s State) Key() string {
	name := s.String()
	var sb strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r + ('a' - 'A'))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// legacy names seen in older integrations.
var stateAliases = map[string]State{
	"defaultwelcomeintent": Welcome,
	"mindfulness":          MindfulnessIntro,
	"mindfulnessexercise":  MindfulnessIntro,
	"mindfulnessfollowup":  MindfulnessFollowup1,
	"panic":                PanicAffirm,
	"panicadvice":          PanicAffirm,
	"studentissues":        StudentIssue,
}

// ParseState accepts the CamelCase name, the snake_case key, or a legacy alias.
// Matching ignores case, underscores, dashes and spaces.
func ParseState(name string) (State, error) {
	norm := normalizeStateName(name)
	if norm == "" {
		return stateInvalid, fmt.Errorf("%w: empty", ErrUnknownState)
	}
	for s := SentimentGatheringInitial; s < stateSentinel; s++ {
		if normalizeStateName(stateNames[s]) == norm {
			return s, nil
		}
	}
	if s, ok := stateAliases[norm]; ok {
		return s, nil
	}
	return stateInvalid, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

func normalizeStateName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch r {
		case '_', '-', ' ', '\t':
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s State) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, int(s))
	}
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Family groups states for fallback responses.
type Family string

const (
	FamilySentiment   Family = "sentiment"
	FamilyMindfulness Family = "mindfulness"
	FamilyStudent     Family = "student"
	FamilyPanic       Family = "panic"
	FamilyGeneral     Family = "general"
)

func (s State) Family() Family {
	switch s {
	case Welcome, IntroExplanation, SentimentGatheringInitial, SentimentGatheringFollowup, Breathing:
		return FamilySentiment
	case MindfulnessIntro, MindfulnessFollowup1, MindfulnessFollowup2, MindfulnessFollowup3:
		return FamilyMindfulness
	case StudentIssue, StudentIssueExam, StudentIssueHomework, StudentIssueCourse, StudentIssueGrades:
		return FamilyStudent
	case PanicAffirm:
		return FamilyPanic
	default:
		return FamilyGeneral
	}
}

// mindfulness reports whether s belongs to the mindfulness exercise.
func (s State) mindfulness() bool {
	return s.Family() == FamilyMindfulness
}
