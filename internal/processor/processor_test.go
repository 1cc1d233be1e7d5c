package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/ally/internal/catalog"
	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/hermes"
	"github.com/MikeSquared-Agency/ally/internal/sentiment"
	"github.com/MikeSquared-Agency/ally/internal/session"
)

type fakeClassifier struct {
	mu     sync.Mutex
	byText map[string]sentiment.Sentiment
	failOn map[string]error
	def    sentiment.Sentiment
	err    error
	block  bool
	calls  []string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (sentiment.Sentiment, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return sentiment.Sentiment{}, ctx.Err()
	}
	if f.err != nil {
		return sentiment.Sentiment{}, f.err
	}
	if err, ok := f.failOn[text]; ok {
		return sentiment.Sentiment{}, err
	}
	if s, ok := f.byText[text]; ok {
		return s, nil
	}
	return f.def, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []hermes.TurnEvent
}

func (f *fakePublisher) PublishTurn(ev hermes.TurnEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakePublisher) last(t *testing.T) hermes.TurnEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		t.Fatal("no events published")
	}
	return f.events[len(f.events)-1]
}

type failingStore struct {
	getErr  error
	saveErr error
}

func (f failingStore) Get(context.Context, string) (*dialog.Session, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return nil, session.ErrNotFound
}

func (f failingStore) Save(context.Context, *dialog.Session) error { return f.saveErr }

func label(l sentiment.Label) sentiment.Sentiment {
	if l == sentiment.Neutral {
		return sentiment.Sentiment{Label: l}
	}
	return sentiment.Sentiment{Label: l, Confidence: 0.8}
}

func mustCatalog() *catalog.Catalog {
	c, err := catalog.Default()
	if err != nil {
		panic(err)
	}
	return c
}

func text(t *testing.T, topic, sub string) string {
	t.Helper()
	s, err := mustCatalog().Text(dialog.Key(topic, sub))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestProcessor(st session.Store, cl sentiment.Classifier, pub Publisher) *Processor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, session.NewLocker(), cl, mustCatalog(), pub, Options{
		Platform:              "test",
		ClassifierTimeout:     time.Second,
		ClassifierConcurrency: 2,
	}, logger)
}

func TestHandleTurn_NewUserSadness(t *testing.T) {
	st := session.NewInMemoryStore()
	pub := &fakePublisher{}
	p := newTestProcessor(st, &fakeClassifier{def: label(sentiment.Sadness)}, pub)

	out, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", Utterance: "I feel awful"})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if out.Text != text(t, "greeting", "negative") {
		t.Errorf("unexpected text %q", out.Text)
	}
	if out.State != dialog.SentimentGatheringFollowup || out.Degraded || out.TurnID == "" {
		t.Errorf("unexpected outcome %+v", out)
	}

	sess, err := st.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.DialogState != dialog.SentimentGatheringFollowup || sess.Version != 1 {
		t.Errorf("unexpected session %+v", sess)
	}
	if len(sess.SentimentHistory) != 1 || sess.SentimentHistory[0] != sentiment.Sadness {
		t.Errorf("history = %v", sess.SentimentHistory)
	}

	ev := pub.last(t)
	if ev.Subject() != hermes.SubjectTurnCompleted || ev.TurnID != out.TurnID {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.FromState != "sentiment_gathering_initial" || ev.ToState != "sentiment_gathering_followup" || ev.Sentiment != "sadness" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Platform != "test" {
		t.Errorf("platform = %q", ev.Platform)
	}
}

func TestHandleTurn_Conversation(t *testing.T) {
	st := session.NewInMemoryStore()
	cl := &fakeClassifier{byText: map[string]sentiment.Sentiment{
		"not great":        label(sentiment.Sadness),
		"I am really down": label(sentiment.Sadness),
		"my room is quiet": label(sentiment.Neutral),
	}}
	p := newTestProcessor(st, cl, nil)
	ctx := context.Background()

	steps := []struct {
		utterance string
		want      dialog.State
	}{
		{"not great", dialog.SentimentGatheringFollowup},
		{"I am really down", dialog.MindfulnessIntro},
		{"ok", dialog.MindfulnessFollowup1},
		{"my room is quiet", dialog.Done},
		{"hi again", dialog.SentimentGatheringInitial},
	}
	for i, s := range steps {
		out, err := p.HandleTurn(ctx, dialog.Turn{UserID: "u1", Utterance: s.utterance})
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if out.State != s.want {
			t.Fatalf("turn %d: state %s, want %s", i, out.State, s.want)
		}
	}

	sess, _ := st.Get(ctx, "u1")
	if sess.Version != int64(len(steps)) {
		t.Errorf("version = %d", sess.Version)
	}
	want := []sentiment.Label{sentiment.Sadness, sentiment.Sadness, sentiment.Neutral}
	if fmt.Sprint(sess.SentimentHistory) != fmt.Sprint(want) {
		t.Errorf("history = %v, want %v", sess.SentimentHistory, want)
	}
}

func TestHandleTurn_PlatformStateOverridesStored(t *testing.T) {
	st := session.NewInMemoryStore()
	cl := &fakeClassifier{def: label(sentiment.Joy)}
	p := newTestProcessor(st, cl, nil)

	out, err := p.HandleTurn(context.Background(), dialog.Turn{
		UserID:      "u1",
		DialogState: "student_issue",
		Utterance:   "I have a math exam",
		Slots:       map[string][]string{"EXAM": {"math exam"}},
	})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if out.State != dialog.StudentIssueExam || out.Text != text(t, "student", "exam") {
		t.Errorf("unexpected outcome %+v", out)
	}
	if cl.callCount() != 0 {
		t.Errorf("student states must not call the classifier, got %d calls", cl.callCount())
	}

	sess, _ := st.Get(context.Background(), "u1")
	if len(sess.SentimentHistory) != 0 {
		t.Errorf("no sentiment should be recorded, got %v", sess.SentimentHistory)
	}
	if sess.Slots["EXAM"][0] != "math exam" {
		t.Errorf("slots not stored: %v", sess.Slots)
	}
}

func TestHandleTurn_ClassifierUnavailable(t *testing.T) {
	st := session.NewInMemoryStore()
	pub := &fakePublisher{}
	p := newTestProcessor(st, &fakeClassifier{err: errors.New("watson down")}, pub)

	out, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", Utterance: "hello"})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !out.Degraded || out.Text != text(t, "fallback", "sentiment") {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.State != dialog.SentimentGatheringInitial {
		t.Errorf("state should not change, got %s", out.State)
	}
	if st.Len() != 0 {
		t.Error("degraded turns must not persist a session")
	}

	ev := pub.last(t)
	if ev.Subject() != hermes.SubjectTurnDegraded || ev.Reason != "classifier_unavailable" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHandleTurn_ClassifierFallbackByFamily(t *testing.T) {
	tests := []struct {
		state string
		sub   string
	}{
		{"mindfulness_followup1", "mindfulness"},
		{"general_convo", "general"},
		{"sentiment_gathering_followup", "sentiment"},
	}
	for _, tt := range tests {
		p := newTestProcessor(session.NewInMemoryStore(), &fakeClassifier{err: errors.New("down")}, nil)
		out, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", DialogState: tt.state, Utterance: "x"})
		if err != nil {
			t.Fatalf("%s: %v", tt.state, err)
		}
		if out.Text != text(t, "fallback", tt.sub) {
			t.Errorf("%s: got %q", tt.state, out.Text)
		}
	}
}

func TestHandleTurn_ClassifierTimeout(t *testing.T) {
	st := session.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(st, nil, &fakeClassifier{block: true}, mustCatalog(), nil, Options{
		ClassifierTimeout: 20 * time.Millisecond,
	}, logger)

	start := time.Now()
	out, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", Utterance: "hello"})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !out.Degraded {
		t.Error("expected degraded outcome")
	}
	if time.Since(start) > time.Second {
		t.Error("classifier timeout not applied")
	}
}

func TestHandleTurn_UnknownPlatformState(t *testing.T) {
	st := session.NewInMemoryStore()
	cl := &fakeClassifier{def: label(sentiment.Joy)}
	p := newTestProcessor(st, cl, nil)

	out, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", DialogState: "HappyPath", Utterance: "hi"})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if out.Text != text(t, "fallback", "unknown_state") {
		t.Errorf("unexpected text %q", out.Text)
	}
	if out.State != dialog.SentimentGatheringInitial {
		t.Errorf("state = %s", out.State)
	}
	if out.RawState != "HappyPath" {
		t.Errorf("raw state = %q, want the platform's name echoed", out.RawState)
	}
	if st.Len() != 0 || cl.callCount() != 0 {
		t.Error("unknown state must not classify or persist")
	}
}

func TestHandleTurn_MindfulnessFragments(t *testing.T) {
	st := session.NewInMemoryStore()
	utterance := "I sat down. My chest feels tight. The walls are white"
	cl := &fakeClassifier{byText: map[string]sentiment.Sentiment{
		utterance:              label(sentiment.Fear),
		"I sat down":           {Label: sentiment.Neutral},
		"My chest feels tight": {Label: sentiment.Fear, Confidence: 0.9},
		"The walls are white":  {Label: sentiment.Joy, Confidence: 0.6},
	}}
	p := newTestProcessor(st, cl, nil)

	out, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", DialogState: "mindfulness_followup1", Utterance: utterance})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if out.State != dialog.MindfulnessFollowup2 {
		t.Errorf("state = %s", out.State)
	}
	if !strings.Contains(out.Text, `"My chest feels tight"`) {
		t.Errorf("expected the most emotional sentence quoted, got %q", out.Text)
	}
	if cl.callCount() != 4 {
		t.Errorf("expected 1 utterance + 3 fragment calls, got %d", cl.callCount())
	}

	sess, _ := st.Get(context.Background(), "u1")
	if sess.MindfulnessStep != 2 {
		t.Errorf("mindfulness step = %d", sess.MindfulnessStep)
	}
}

func TestHandleTurn_RepeatedFollowupStateAdvancesExercise(t *testing.T) {
	st := session.NewInMemoryStore()
	utterance := "I feel alone. Everything is grey today"
	cl := &fakeClassifier{
		def: label(sentiment.Neutral),
		byText: map[string]sentiment.Sentiment{
			utterance:                  label(sentiment.Sadness),
			"I feel alone":             {Label: sentiment.Sadness, Confidence: 0.6},
			"Everything is grey today": {Label: sentiment.Sadness, Confidence: 0.9},
			"grey":                     {Label: sentiment.Sadness, Confidence: 0.7},
		},
	}
	p := newTestProcessor(st, cl, nil)
	ctx := context.Background()

	want := []struct {
		state dialog.State
		quote string
	}{
		{dialog.MindfulnessFollowup2, `"Everything is grey today"`},
		{dialog.MindfulnessFollowup3, `"grey"`},
		{dialog.Done, ""},
	}
	for i, w := range want {
		out, err := p.HandleTurn(ctx, dialog.Turn{UserID: "u1", DialogState: "mindfulness_followup1", Utterance: utterance})
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if out.State != w.state {
			t.Fatalf("turn %d: state %s, want %s", i, out.State, w.state)
		}
		if w.quote != "" && !strings.Contains(out.Text, w.quote) {
			t.Errorf("turn %d: expected %s quoted, got %q", i, w.quote, out.Text)
		}
		if w.quote == "" && out.Text != text(t, "mindfulness", "done") {
			t.Errorf("turn %d: unexpected text %q", i, out.Text)
		}
	}

	sess, _ := st.Get(ctx, "u1")
	if sess.DialogState != dialog.Done || sess.MindfulnessStep != 0 {
		t.Errorf("exercise should be finished, got %s step %d", sess.DialogState, sess.MindfulnessStep)
	}
}

// rawScorer reports raw fragment scores next to thresholded labels.
type rawScorer struct {
	*fakeClassifier
	raw map[string]float64
}

func (r rawScorer) Score(_ context.Context, text string) (float64, error) {
	return r.raw[text], nil
}

func TestHandleTurn_FragmentsRankByRawScore(t *testing.T) {
	utterance := "I sat down. The room feels empty. It is quiet"
	cl := rawScorer{
		fakeClassifier: &fakeClassifier{
			def:    label(sentiment.Neutral),
			byText: map[string]sentiment.Sentiment{utterance: label(sentiment.Sadness)},
		},
		raw: map[string]float64{"I sat down": 0.12, "The room feels empty": 0.41, "It is quiet": 0.2},
	}
	p := newTestProcessor(session.NewInMemoryStore(), cl, nil)

	out, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", DialogState: "mindfulness_followup1", Utterance: utterance})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !strings.Contains(out.Text, `"The room feels empty"`) {
		t.Errorf("expected the highest raw score quoted, got %q", out.Text)
	}
	if cl.callCount() != 1 {
		t.Errorf("fragments should be scored through Score, got %d Classify calls", cl.callCount())
	}
}

func TestHandleTurn_NeutralSkipsFragmentScoring(t *testing.T) {
	cl := &fakeClassifier{def: label(sentiment.Neutral)}
	p := newTestProcessor(session.NewInMemoryStore(), cl, nil)

	out, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", DialogState: "mindfulness_followup2", Utterance: "the sky is grey today"})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if out.State != dialog.Done || out.Text != text(t, "mindfulness", "done") {
		t.Errorf("unexpected outcome %+v", out)
	}
	if cl.callCount() != 1 {
		t.Errorf("neutral utterance should not score fragments, got %d calls", cl.callCount())
	}
}

func TestHandleTurn_FragmentFailureDegrades(t *testing.T) {
	utterance := "one. two"
	cl := &fakeClassifier{
		byText: map[string]sentiment.Sentiment{utterance: label(sentiment.Anger)},
		failOn: map[string]error{"two": errors.New("quota exceeded")},
	}
	st := session.NewInMemoryStore()
	p := newTestProcessor(st, cl, nil)

	out, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", DialogState: "mindfulness_followup1", Utterance: utterance})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !out.Degraded || out.Text != text(t, "fallback", "mindfulness") {
		t.Errorf("unexpected outcome %+v", out)
	}
	if st.Len() != 0 {
		t.Error("degraded turns must not persist a session")
	}
}

func TestHandleTurn_StoreErrors(t *testing.T) {
	cl := &fakeClassifier{def: label(sentiment.Joy)}

	p := newTestProcessor(failingStore{getErr: errors.New("connection refused")}, cl, nil)
	if _, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", Utterance: "hi"}); !errors.Is(err, ErrSessionStore) {
		t.Errorf("expected ErrSessionStore on load, got %v", err)
	}

	pub := &fakePublisher{}
	p = newTestProcessor(failingStore{saveErr: errors.New("disk full")}, cl, pub)
	if _, err := p.HandleTurn(context.Background(), dialog.Turn{UserID: "u1", Utterance: "hi"}); !errors.Is(err, ErrSessionStore) {
		t.Errorf("expected ErrSessionStore on save, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Error("failed saves must not publish")
	}
}

func TestHandleTurn_MissingUser(t *testing.T) {
	p := newTestProcessor(session.NewInMemoryStore(), &fakeClassifier{}, nil)
	if _, err := p.HandleTurn(context.Background(), dialog.Turn{Utterance: "hi"}); !errors.Is(err, ErrMissingUser) {
		t.Errorf("expected ErrMissingUser, got %v", err)
	}
}

func TestHandleTurn_ConcurrentUsersIsolated(t *testing.T) {
	st := session.NewInMemoryStore()
	cl := &fakeClassifier{byText: map[string]sentiment.Sentiment{
		"a": label(sentiment.Joy),
		"b": label(sentiment.Anger),
	}}
	p := newTestProcessor(st, cl, nil)
	ctx := context.Background()

	const turns = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*turns)
	for i := 0; i < turns; i++ {
		for _, user := range []string{"a", "b"} {
			user := user
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := p.HandleTurn(ctx, dialog.Turn{UserID: user, DialogState: "general_convo", Utterance: user})
				if err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("HandleTurn: %v", err)
	}

	for user, want := range map[string]sentiment.Label{"a": sentiment.Joy, "b": sentiment.Anger} {
		sess, err := st.Get(ctx, user)
		if err != nil {
			t.Fatalf("Get %s: %v", user, err)
		}
		if sess.Version != turns || len(sess.SentimentHistory) != turns {
			t.Errorf("%s: version %d, history %d", user, sess.Version, len(sess.SentimentHistory))
		}
		for _, l := range sess.SentimentHistory {
			if l != want {
				t.Errorf("%s: history contains %s", user, l)
			}
		}
	}
}

func TestRespond(t *testing.T) {
	p := newTestProcessor(session.NewInMemoryStore(), &fakeClassifier{def: label(sentiment.Joy)}, nil)
	reply, err := p.Respond(context.Background(), "fb-1", "great day")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != text(t, "greeting", "joy") {
		t.Errorf("unexpected reply %q", reply)
	}
}
