package dialog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/ally/internal/catalog"
	"github.com/MikeSquared-Agency/ally/internal/sentiment"
)

// ErrMissingAnalysis is returned when a state that needs a sentiment is
// reduced without one.
var ErrMissingAnalysis = errors.New("missing sentiment analysis")

// Slot names supplied by the dialog platform.
const (
	SlotTrigger     = "TRIGGER"
	SlotLocation    = "LOCATION"
	SlotHomework    = "HOMEWORK"
	SlotCourse      = "COURSE"
	SlotStudentName = "STUDENT_NAME"
	SlotExam        = "EXAM"
	SlotGrades      = "GRADES"
	SlotResponse    = "RESPONSE"
)

// Reducer maps (session, turn, analysis) to a reply and the next state.
// It performs no I/O.
type Reducer struct {
	catalog *catalog.Catalog
}

func NewReducer(c *catalog.Catalog) *Reducer {
	return &Reducer{catalog: c}
}

type step struct {
	sess *Session
	turn Turn
	an   Analysis
}

// Reduce runs one turn in state. On ErrUnknownState the returned result is
// still usable: a generic reply and no transition.
func (r *Reducer) Reduce(sess *Session, state State, turn Turn, an Analysis) (Result, error) {
	if Requirements(state).Sentiment && an.Sentiment == nil {
		return Result{}, fmt.Errorf("%w: state %s", ErrMissingAnalysis, state)
	}

	st := step{sess: sess, turn: turn, an: an}

	var (
		res Result
		err error
	)
	switch state {
	case Welcome:
		res, err = r.say(Key("intro", "welcome"), IntroExplanation)
	case IntroExplanation:
		sub := "start"
		if st.turn.Agreed() {
			sub = "explain"
		}
		res, err = r.say(Key("intro", sub), SentimentGatheringInitial)
	case SentimentGatheringInitial:
		res, err = r.sentimentInitial(st)
	case SentimentGatheringFollowup:
		res, err = r.sentimentFollowup(st)
	case Breathing:
		res, err = r.say(Key("breathing", "exercise"), SentimentGatheringFollowup)
	case MindfulnessIntro:
		res, err = r.say(Key("mindfulness", "intro"), MindfulnessFollowup1)
		res.NextMindfulnessStep = 1
	case MindfulnessFollowup1:
		res, err = r.mindfulnessQuote(st, "sentence", MindfulnessFollowup2, 2)
	case MindfulnessFollowup2:
		res, err = r.mindfulnessQuote(st, "word", MindfulnessFollowup3, 3)
	case MindfulnessFollowup3:
		res, err = r.say(Key("mindfulness", "done"), Done)
	case StudentIssue:
		res, err = r.studentIssue(st)
	case StudentIssueExam:
		res, err = r.studentExam(st)
	case StudentIssueHomework:
		res, err = r.say(Key("student", "homework_followup"), Done)
	case StudentIssueCourse:
		res, err = r.say(Key("student", "course_followup"), Done)
	case StudentIssueGrades:
		res, err = r.say(Key("student", "grades_followup"), Done)
	case PanicAffirm:
		res, err = r.panicAffirm(st)
	case GeneralConvo:
		res, err = r.generalConvo(st)
	case Done:
		res, err = r.say(Key("done", "welcome_back"), SentimentGatheringInitial)
	default:
		return r.unknown(sess, state)
	}
	if err != nil {
		return Result{}, err
	}

	if an.Sentiment != nil {
		label := an.Sentiment.Label
		res.AppendedSentiment = &label
	}
	return res, nil
}

func (r *Reducer) unknown(sess *Session, state State) (Result, error) {
	text, err := r.catalog.Text(Key("fallback", "unknown_state"))
	if err != nil {
		return Result{}, err
	}
	mstep := 0
	if sess != nil {
		mstep = sess.MindfulnessStep
	}
	return Result{Text: text, NextState: state, NextMindfulnessStep: mstep},
		fmt.Errorf("%w: %s", ErrUnknownState, state)
}

func (r *Reducer) say(k catalog.Key, next State) (Result, error) {
	text, err := r.catalog.Text(k)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, NextState: next}, nil
}

func (r *Reducer) render(k catalog.Key, vars map[string]string, next State) (Result, error) {
	text, err := r.catalog.Render(k, vars)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, NextState: next}, nil
}

func (r *Reducer) sentimentInitial(st step) (Result, error) {
	sub := "neutral"
	switch l := st.an.Sentiment.Label; {
	case l == sentiment.Joy:
		sub = "joy"
	case l.Negative():
		sub = "negative"
	}
	return r.say(Key("greeting", sub), SentimentGatheringFollowup)
}

func (r *Reducer) sentimentFollowup(st step) (Result, error) {
	if st.turn.Agreed() {
		return r.say(Key("followup", "all_ears"), GeneralConvo)
	}
	switch st.an.Sentiment.Label {
	case sentiment.Joy:
		return r.say(Key("followup", "joy"), Done)
	case sentiment.Anger, sentiment.Fear:
		return r.say(Key("followup", "breathing"), Breathing)
	case sentiment.Sadness:
		return r.say(Key("followup", "mindfulness_intro"), MindfulnessIntro)
	default:
		return r.say(Key("followup", "probe"), SentimentGatheringFollowup)
	}
}

// mindfulnessQuote quotes the most emotional fragment back to the user, or
// ends the exercise once the user sounds neutral.
func (r *Reducer) mindfulnessQuote(st step, sub string, next State, nextStep int) (Result, error) {
	if st.an.Sentiment.Label == sentiment.Neutral {
		return r.say(Key("mindfulness", "done"), Done)
	}
	frag, ok := SelectFragment(st.an.Fragments)
	if !ok {
		return r.say(Key("mindfulness", "done"), Done)
	}
	res, err := r.render(Key("mindfulness", sub), map[string]string{"Fragment": frag.Text}, next)
	res.NextMindfulnessStep = nextStep
	return res, err
}

func (r *Reducer) studentIssue(st step) (Result, error) {
	if _, ok := st.turn.First(SlotExam); ok {
		return r.say(Key("student", "exam"), StudentIssueExam)
	}
	if hw, ok := st.turn.First(SlotHomework); ok {
		course, _ := st.turn.First(SlotCourse)
		if subject := homeworkSubject(course, hw); subject != "" {
			return r.say(Key("homework_course", subject), StudentIssueCourse)
		}
		return r.say(Key("homework", homeworkKind(hw)), StudentIssueHomework)
	}
	if _, ok := st.turn.First(SlotGrades); ok {
		return r.say(Key("student", "grades"), StudentIssueGrades)
	}
	return r.say(Key("student", "clarify"), StudentIssue)
}

func (r *Reducer) studentExam(st step) (Result, error) {
	if name, ok := st.turn.First(SlotStudentName); ok {
		return r.render(Key("student", "exam_partner"), map[string]string{"Name": name}, Done)
	}
	return r.say(Key("student", "exam_alone"), Done)
}

func (r *Reducer) panicAffirm(st step) (Result, error) {
	triggers := st.turn.Slots[SlotTrigger]
	if _, ok := st.turn.First(SlotTrigger); !ok {
		return r.say(Key("panic", "clarify"), PanicAffirm)
	}
	loc, _ := st.turn.First(SlotLocation)
	sub := panicAdviceSub(ClassifyTrigger(triggers...), ParseLocation(loc))
	return r.say(Key("panic", sub), Done)
}

func (r *Reducer) generalConvo(st step) (Result, error) {
	label := st.an.Sentiment.Label
	if label == sentiment.Neutral && st.sess != nil {
		label, _ = st.sess.LatestNonNeutral()
	}
	switch label {
	case sentiment.Joy:
		return r.say(Key("general", "joy"), Done)
	case sentiment.Anger, sentiment.Fear, sentiment.Disgust:
		return r.say(Key("general", "breathing_offer"), Breathing)
	case sentiment.Sadness:
		return r.say(Key("general", "mindfulness_intro"), MindfulnessIntro)
	default:
		return r.say(Key("general", "listen"), GeneralConvo)
	}
}

var homeworkKinds = []struct {
	kind     string
	keywords []string
}{
	{"writing", []string{"essay", "paper", "report", "writing"}},
	{"problems", []string{"problem", "worksheet", "exercises", "assignment"}},
	{"project", []string{"project", "lab", "presentation"}},
}

func homeworkKind(value string) string {
	v := strings.ToLower(value)
	for _, hk := range homeworkKinds {
		for _, kw := range hk.keywords {
			if strings.Contains(v, kw) {
				return hk.kind
			}
		}
	}
	return "general"
}

var homeworkSubjects = []struct {
	subject  string
	keywords []string
}{
	{"math", []string{"math", "algebra", "calculus", "geometry", "statistics"}},
	{"science", []string{"science", "biology", "chemistry", "physics"}},
	{"english", []string{"english", "literature"}},
	{"history", []string{"history"}},
}

// homeworkSubject prefers the COURSE slot and falls back to the homework
// value itself, e.g. "math homework".
func homeworkSubject(values ...string) string {
	for _, value := range values {
		v := strings.ToLower(value)
		if v == "" {
			continue
		}
		for _, hs := range homeworkSubjects {
			for _, kw := range hs.keywords {
				if strings.Contains(v, kw) {
					return hs.subject
				}
			}
		}
	}
	return ""
}

// Key is shorthand for a catalog key.
func Key(topic, sub string) catalog.Key {
	return catalog.Key{Topic: topic, Sub: sub}
}

// CatalogKeys lists every entry a reducer or its callers may look up.
func CatalogKeys() []catalog.Key {
	keys := []catalog.Key{
		Key("intro", "welcome"), Key("intro", "explain"), Key("intro", "start"),
		Key("greeting", "joy"), Key("greeting", "neutral"), Key("greeting", "negative"),
		Key("followup", "joy"), Key("followup", "breathing"), Key("followup", "mindfulness_intro"), Key("followup", "probe"),
		Key("followup", "all_ears"),
		Key("breathing", "exercise"),
		Key("mindfulness", "intro"), Key("mindfulness", "sentence"), Key("mindfulness", "word"), Key("mindfulness", "done"),
		Key("student", "exam"), Key("student", "exam_partner"), Key("student", "exam_alone"),
		Key("student", "grades"), Key("student", "grades_followup"),
		Key("student", "homework_followup"), Key("student", "course_followup"), Key("student", "clarify"),
		Key("homework", "general"),
		Key("panic", "clarify"), Key("panic", "unknown"), Key("panic", "health"), Key("panic", "fight"),
		Key("general", "listen"), Key("general", "joy"), Key("general", "breathing_offer"), Key("general", "mindfulness_intro"),
		Key("done", "welcome_back"),
		Key("fallback", "unknown_state"),
	}
	for _, hk := range homeworkKinds {
		keys = append(keys, Key("homework", hk.kind))
	}
	for _, hs := range homeworkSubjects {
		keys = append(keys, Key("homework_course", hs.subject))
	}
	for _, loc := range []Location{LocationHome, LocationWork, LocationSchool} {
		for _, tt := range []TriggerType{TriggerHealth, TriggerFight} {
			keys = append(keys, Key("panic", panicAdviceSub(tt, loc)))
		}
	}
	for _, f := range []Family{FamilySentiment, FamilyMindfulness, FamilyStudent, FamilyPanic, FamilyGeneral} {
		keys = append(keys, FallbackKey(f))
	}
	return keys
}

// FallbackKey is the non-committal reply for a state family, used when the
// classifier is unavailable.
func FallbackKey(f Family) catalog.Key {
	return Key("fallback", string(f))
}
