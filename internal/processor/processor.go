package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/ally/internal/catalog"
	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/hermes"
	"github.com/MikeSquared-Agency/ally/internal/sentiment"
	"github.com/MikeSquared-Agency/ally/internal/session"
)

var (
	// ErrSessionStore wraps any failure to load or save a session.
	ErrSessionStore = errors.New("session store unavailable")
	ErrMissingUser  = errors.New("turn has no user id")

	errClassifierUnavailable = errors.New("classifier unavailable")
)

// Publisher receives one event per handled turn.
type Publisher interface {
	PublishTurn(ev hermes.TurnEvent)
}

type Options struct {
	// Platform is recorded on published events.
	Platform          string
	ClassifierTimeout time.Duration
	// ClassifierConcurrency bounds parallel fragment scoring.
	ClassifierConcurrency int
}

// Outcome is what the platform adapter needs to answer a turn.
type Outcome struct {
	TurnID string
	Text   string
	State  dialog.State
	// RawState is the platform's state name when it could not be parsed.
	// Adapters echo it back so the platform sees no transition.
	RawState string
	Degraded bool
}

// Processor runs a turn end to end: load session, classify, reduce, persist.
type Processor struct {
	store      session.Store
	locker     *session.Locker
	classifier sentiment.Classifier
	scorer     sentiment.Scorer
	catalog    *catalog.Catalog
	reducer    *dialog.Reducer
	publisher  Publisher
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func New(st session.Store, locker *session.Locker, cl sentiment.Classifier, cat *catalog.Catalog, pub Publisher, opts Options, logger *slog.Logger) *Processor {
	if opts.ClassifierTimeout <= 0 {
		opts.ClassifierTimeout = 5 * time.Second
	}
	if opts.ClassifierConcurrency <= 0 {
		opts.ClassifierConcurrency = 1
	}
	if locker == nil {
		locker = session.NewLocker()
	}
	// Fragments rank by raw score when the classifier exposes one; otherwise
	// by the thresholded confidence.
	scorer, _ := cl.(sentiment.Scorer)
	return &Processor{
		store:      st,
		locker:     locker,
		classifier: cl,
		scorer:     scorer,
		catalog:    cat,
		reducer:    dialog.NewReducer(cat),
		publisher:  pub,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleTurn processes one user turn. Turns for the same user are serialised.
func (p *Processor) HandleTurn(ctx context.Context, turn dialog.Turn) (Outcome, error) {
	if turn.UserID == "" {
		return Outcome{}, ErrMissingUser
	}
	out := Outcome{TurnID: uuid.NewString()}
	log := p.logger.With("turn_id", out.TurnID, "user_id", turn.UserID)

	unlock := p.locker.Lock(turn.UserID)
	defer unlock()

	sess, err := p.store.Get(ctx, turn.UserID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = dialog.NewSession(turn.UserID)
	case err != nil:
		return Outcome{}, fmt.Errorf("%w: load %s: %v", ErrSessionStore, turn.UserID, err)
	}

	state := sess.DialogState
	if turn.DialogState != "" {
		parsed, err := dialog.ParseState(turn.DialogState)
		if err != nil {
			log.Warn("unknown dialog state from platform", "state", turn.DialogState)
			return p.unknownState(out, sess.DialogState, turn.DialogState)
		}
		state = sess.Resume(parsed)
		if state != parsed {
			log.Debug("resuming mindfulness exercise", "reported", parsed, "state", state)
		}
	}
	out.State = state

	an, err := p.analyze(ctx, turn.Utterance, dialog.Requirements(state))
	if err != nil {
		log.Warn("classifier unavailable, using fallback", "state", state, "error", err)
		return p.degraded(out, turn.UserID, state, "classifier_unavailable")
	}

	res, err := p.reducer.Reduce(sess, state, turn, an)
	if errors.Is(err, dialog.ErrUnknownState) {
		log.Warn("no handler for dialog state", "state", state)
		out.Text = res.Text
		return out, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("reduce %s: %w", state, err)
	}

	next := sess.Apply(res, turn.Slots, p.now())
	if err := p.store.Save(ctx, next); err != nil {
		return Outcome{}, fmt.Errorf("%w: save %s: %v", ErrSessionStore, turn.UserID, err)
	}

	out.Text = res.Text
	out.State = res.NextState

	ev := hermes.TurnEvent{
		TurnID:    out.TurnID,
		UserID:    turn.UserID,
		Platform:  p.opts.Platform,
		FromState: state.Key(),
		ToState:   res.NextState.Key(),
		At:        next.UpdatedAt,
	}
	if res.AppendedSentiment != nil {
		ev.Sentiment = string(*res.AppendedSentiment)
	}
	p.publish(ev)

	log.Info("turn handled", "from", state, "to", res.NextState, "sentiment", ev.Sentiment)
	return out, nil
}

// analyze runs the classifier work req asks for under the classifier timeout.
func (p *Processor) analyze(ctx context.Context, utterance string, req dialog.Requirement) (dialog.Analysis, error) {
	var an dialog.Analysis
	if !req.Sentiment {
		return an, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.ClassifierTimeout)
	defer cancel()

	s, err := p.classifier.Classify(ctx, utterance)
	if err != nil {
		return an, fmt.Errorf("%w: %v", errClassifierUnavailable, err)
	}
	an.Sentiment = &s

	if req.Fragments == dialog.FragmentNone || s.Label == sentiment.Neutral {
		return an, nil
	}

	frags := dialog.SplitFragments(utterance, req.Fragments)
	scored := make([]dialog.ScoredFragment, len(frags))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ClassifierConcurrency)
	for i, f := range frags {
		i, f := i, f
		g.Go(func() error {
			score, err := p.scoreFragment(gctx, f)
			if err != nil {
				return err
			}
			scored[i] = dialog.ScoredFragment{Text: f, Score: score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return an, fmt.Errorf("%w: score fragments: %v", errClassifierUnavailable, err)
	}
	an.Fragments = scored
	return an, nil
}

func (p *Processor) scoreFragment(ctx context.Context, text string) (float64, error) {
	if p.scorer != nil {
		return p.scorer.Score(ctx, text)
	}
	s, err := p.classifier.Classify(ctx, text)
	if err != nil {
		return 0, err
	}
	return s.Confidence, nil
}

func (p *Processor) degraded(out Outcome, userID string, state dialog.State, reason string) (Outcome, error) {
	text, err := p.catalog.Text(dialog.FallbackKey(state.Family()))
	if err != nil {
		return Outcome{}, err
	}
	out.Text = text
	out.State = state
	out.Degraded = true

	p.publish(hermes.TurnEvent{
		TurnID:    out.TurnID,
		UserID:    userID,
		Platform:  p.opts.Platform,
		FromState: state.Key(),
		ToState:   state.Key(),
		Degraded:  true,
		Reason:    reason,
		At:        p.now().UTC(),
	})
	return out, nil
}

func (p *Processor) unknownState(out Outcome, stored dialog.State, raw string) (Outcome, error) {
	text, err := p.catalog.Text(dialog.Key("fallback", "unknown_state"))
	if err != nil {
		return Outcome{}, err
	}
	out.Text = text
	out.State = stored
	out.RawState = raw
	return out, nil
}

func (p *Processor) publish(ev hermes.TurnEvent) {
	if p.publisher == nil {
		return
	}
	p.publisher.PublishTurn(ev)
}
