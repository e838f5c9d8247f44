// Package round drives the target word and the round stopwatch of a call.
package round

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/store"
)

// ErrNoCall is returned when a round is started outside a call.
var ErrNoCall = errors.New("no active call")

// RoundResetter clears per-round scoring state.
type RoundResetter interface {
	ResetRound()
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used by the stopwatch.
func WithClock(c clockwork.Clock) Option {
	return func(rc *Controller) { rc.clock = c }
}

// WithPicker replaces the uniform word picker; pick returns an index in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(rc *Controller) { rc.pick = pick }
}

// Controller owns the Word Record of one call.
type Controller struct {
	store  store.Store
	callID string
	scores RoundResetter
	clock  clockwork.Clock
	pick   func(n int) int
	watch  *Stopwatch

	mu       sync.Mutex
	word     string
	round    int64
	sub      store.Subscription
	onChange func(word string, round int64)
	closed   bool
}

type wordRecord struct {
	Word  string `json:"word"`
	Round int64  `json:"round"`
}

// New returns a controller for callID. scores is reset at the start of
// every round, whichever peer starts it.
func New(st store.Store, callID string, scores RoundResetter, opts ...Option) *Controller {
	c := &Controller{
		store:  st,
		callID: callID,
		scores: scores,
		clock:  clockwork.NewRealClock(),
		pick:   rand.IntN,
		word:   DefaultWord,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.watch = NewStopwatch(c.clock)
	return c
}

// OnChange registers fn to be called when the word changes.
func (c *Controller) OnChange(fn func(word string, round int64)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// StartRound begins a new round with a freshly drawn word. Repeats of the
// previous word are allowed. The round number continues from the higher of
// the local and the persisted round, so a peer that has not yet seen the
// other's latest round still moves the call forward.
func (c *Controller) StartRound(ctx context.Context) error {
	if c.callID == "" {
		return ErrNoCall
	}

	snap, err := c.store.Get(ctx, store.WordPath(c.callID))
	if err != nil {
		return err
	}
	persisted, _ := snap.Fields.Int("round")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return store.ErrClosed
	}
	c.round = max(c.round, persisted) + 1
	rec := wordRecord{Word: Vocabulary[c.pick(len(Vocabulary))], Round: c.round}
	c.word = rec.Word
	c.beginLocked()
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(rec.Word, rec.Round)
	}

	err = c.store.Set(ctx, store.WordPath(c.callID), store.Fields{"word": rec.Word, "round": rec.Round}, false)
	if err != nil {
		log.Warn().Err(err).Str("call", c.callID).Msg("failed to write word")
		return err
	}
	log.Debug().Str("word", rec.Word).Int64("round", rec.Round).Msg("round started")
	return nil
}

// beginLocked resets per-round state for a new round.
func (c *Controller) beginLocked() {
	if c.scores != nil {
		c.scores.ResetRound()
	}
	c.watch.Restart()
}

// Follow mirrors rounds started by the other peer.
func (c *Controller) Follow(ctx context.Context) error {
	sub, err := c.store.WatchDocument(ctx, store.WordPath(c.callID), c.onWord)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		sub.Cancel()
		return store.ErrClosed
	}
	if c.sub != nil {
		c.sub.Cancel()
	}
	c.sub = sub
	return nil
}

func (c *Controller) onWord(s store.Snapshot) {
	if !s.Exists {
		return
	}
	var rec wordRecord
	if err := s.Decode(&rec); err != nil || rec.Word == "" {
		log.Warn().Err(err).Str("path", s.Path).Msg("malformed word record")
		return
	}

	// The persisted word always wins; only a higher round starts a new one.
	c.mu.Lock()
	newRound := rec.Round > c.round
	if !newRound && rec.Word == c.word {
		c.mu.Unlock()
		return
	}
	if newRound {
		c.round = rec.Round
		c.beginLocked()
	}
	c.word = rec.Word
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(rec.Word, rec.Round)
	}
}

// CurrentWord returns the persisted word of the call, or "" when no round
// has been started.
func (c *Controller) CurrentWord(ctx context.Context) (string, error) {
	if c.callID == "" {
		return "", nil
	}
	snap, err := c.store.Get(ctx, store.WordPath(c.callID))
	if err != nil {
		return "", err
	}
	word, _ := snap.Fields.String("word")
	return word, nil
}

// Word returns the mirrored word; DefaultWord until a round starts.
func (c *Controller) Word() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.word
}

// Round returns the current round number, 0 before the first round.
func (c *Controller) Round() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}

// PauseResume suspends or resumes the stopwatch.
func (c *Controller) PauseResume() {
	c.watch.PauseResume()
}

// Reset stops and zeroes the stopwatch.
func (c *Controller) Reset() {
	c.watch.Reset()
}

// Elapsed returns the stopwatch reading.
func (c *Controller) Elapsed() time.Duration {
	return c.watch.Elapsed()
}

// Paused reports whether the stopwatch is suspended.
func (c *Controller) Paused() bool {
	return c.watch.Paused()
}

// Close stops following the Word Record.
func (c *Controller) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.closed = true
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}
