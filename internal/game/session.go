// Package game ties one peer's call, scores, rounds and classifier polling
// into a single session object.
package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/call"
	"github.com/BioHazard786/findit/internal/classifier"
	"github.com/BioHazard786/findit/internal/round"
	"github.com/BioHazard786/findit/internal/score"
	"github.com/BioHazard786/findit/internal/store"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Media is the local capture of this peer.
type Media interface {
	Live() bool
	Stop()
}

// Deps are the collaborators of a session. Store and Transport are
// required; the rest may be nil.
type Deps struct {
	Store      store.Store
	Transport  call.Transport
	Media      Media
	Frames     classifier.FrameSource
	Classifier classifier.Classifier
	Clock      clockwork.Clock

	// PollInterval overrides classifier.DefaultInterval.
	PollInterval time.Duration

	// OnUpdate is called after any change visible in State.
	OnUpdate func()
}

// State is a snapshot of what the players see.
type State struct {
	CallID       string
	Role         call.Role
	Word         string
	Round        int64
	Elapsed      time.Duration
	Paused       bool
	LocalScore   int64
	RemoteScore  int64
	RoundDecided bool
	LastResult   *Result
}

// Result is the latest classifier answer for this peer's camera.
type Result struct {
	Word  string
	Found bool
}

// Session is one peer's view of a game.
type Session struct {
	deps Deps
	neg  *call.Negotiator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	scores     *score.Synchronizer
	rounds     *round.Controller
	lastResult *Result
	closed     bool
	closeErr   error
}

// New creates a session. Nothing touches the network until Create or Join.
func New(deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	var media call.LocalMedia
	if deps.Media != nil {
		media = deps.Media
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		deps:   deps,
		neg:    call.NewNegotiator(deps.Store, deps.Transport, media),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Create starts a new call and returns its id.
func (s *Session) Create(ctx context.Context) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	id, err := s.neg.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	if err := s.begin(ctx, id, call.RoleCaller); err != nil {
		return "", err
	}
	return id, nil
}

// Join answers the call id.
func (s *Session) Join(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.neg.JoinSession(ctx, id); err != nil {
		return err
	}
	if s.neg.Role() != call.RoleCallee || s.neg.CallID() != id {
		return nil
	}
	return s.begin(ctx, id, call.RoleCallee)
}

// begin wires the game state of a freshly negotiated call.
func (s *Session) begin(ctx context.Context, id string, role call.Role) error {
	s.mu.Lock()
	if s.scores != nil {
		s.mu.Unlock()
		return nil
	}
	scores := score.New(s.deps.Store, id, role)
	rounds := round.New(s.deps.Store, id, scores, round.WithClock(s.deps.Clock))
	s.scores, s.rounds = scores, rounds
	s.mu.Unlock()

	scores.OnChange(func(score.Role, int64) { s.notify() })
	rounds.OnChange(func(string, int64) { s.notify() })

	for _, r := range []score.Role{score.Local, score.Remote} {
		if err := scores.Observe(ctx, r); err != nil {
			return err
		}
	}
	if err := rounds.Follow(ctx); err != nil {
		return err
	}

	if s.deps.Frames != nil && s.deps.Classifier != nil {
		p := &classifier.Poller{
			Classifier: s.deps.Classifier,
			Frames:     s.deps.Frames,
			Words:      rounds,
			Scores:     scores,
			Clock:      s.deps.Clock,
			Interval:   s.deps.PollInterval,
			OnResult:   s.recordResult,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			p.Run(s.ctx)
		}()
	}

	log.Info().Str("call", id).Stringer("role", role).Msg("game started")
	s.notify()
	return nil
}

func (s *Session) recordResult(word string, found bool) {
	s.mu.Lock()
	s.lastResult = &Result{Word: word, Found: found}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	if s.deps.OnUpdate != nil {
		s.deps.OnUpdate()
	}
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Session) controller() (*round.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.rounds == nil {
		return nil, round.ErrNoCall
	}
	return s.rounds, nil
}

// StartRound draws a new word for both players.
func (s *Session) StartRound(ctx context.Context) error {
	rc, err := s.controller()
	if err != nil {
		return err
	}
	return rc.StartRound(ctx)
}

// PauseResume toggles the round stopwatch.
func (s *Session) PauseResume() error {
	rc, err := s.controller()
	if err != nil {
		return err
	}
	rc.PauseResume()
	s.notify()
	return nil
}

// ResetClock stops and zeroes the round stopwatch.
func (s *Session) ResetClock() error {
	rc, err := s.controller()
	if err != nil {
		return err
	}
	rc.Reset()
	s.notify()
	return nil
}

// State returns what the players currently see.
func (s *Session) State() State {
	s.mu.Lock()
	scores, rounds, last := s.scores, s.rounds, s.lastResult
	s.mu.Unlock()

	st := State{
		CallID:     s.neg.CallID(),
		Role:       s.neg.Role(),
		Word:       round.DefaultWord,
		LastResult: last,
	}
	if scores != nil {
		st.LocalScore = scores.Score(score.Local)
		st.RemoteScore = scores.Score(score.Remote)
		st.RoundDecided = scores.RoundDecided()
	}
	if rounds != nil {
		st.Word = rounds.Word()
		st.Round = rounds.Round()
		st.Elapsed = rounds.Elapsed()
		st.Paused = rounds.Paused()
	}
	return st
}

// Close stops polling, cancels every subscription, releases the media and
// closes the transport. Later calls return the first result.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	s.closed = true
	scores, rounds := s.scores, s.rounds
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if rounds != nil {
		rounds.Close()
	}
	if scores != nil {
		scores.Close()
	}
	if s.deps.Media != nil {
		s.deps.Media.Stop()
	}
	err := s.neg.Close()

	s.mu.Lock()
	s.closeErr = err
	s.mu.Unlock()
	return err
}
