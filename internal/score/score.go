// Package score keeps the two per-call score counters in sync between peers.
//
// Each peer owns exactly one Score Record: the caller writes localScore and
// the callee writes remoteScore. Roles are relative to this peer, so Local is
// always the counter this peer owns.
package score

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/call"
	"github.com/BioHazard786/findit/internal/store"
)

// ErrNotOwner is returned for writes to the counter owned by the other peer.
var ErrNotOwner = errors.New("score is owned by the other peer")

// Role names a counter from this peer's point of view.
type Role int

const (
	Local Role = iota
	Remote
)

func (r Role) String() string {
	if r == Local {
		return "local"
	}
	return "remote"
}

// Synchronizer mirrors both counters of one call and writes the owned one.
type Synchronizer struct {
	store  store.Store
	callID string
	seat   call.Role

	mu       sync.Mutex
	scores   [2]int64
	decided  bool
	subs     []store.Subscription
	onChange func(Role, int64)
	closed   bool
}

// New returns a synchronizer for callID. seat is the side this peer plays in
// the call and decides which Score Record it owns.
func New(st store.Store, callID string, seat call.Role) *Synchronizer {
	return &Synchronizer{store: st, callID: callID, seat: seat}
}

// OnChange registers fn to be called whenever a mirrored score changes.
func (s *Synchronizer) OnChange(fn func(Role, int64)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Path returns the Score Record path backing role.
func (s *Synchronizer) Path(role Role) string {
	owned := (s.seat == call.RoleCaller) == (role == Local)
	if owned {
		return store.ScorePath(s.callID, store.LocalScoreCollection)
	}
	return store.ScorePath(s.callID, store.RemoteScoreCollection)
}

// Score returns the mirrored value of role.
func (s *Synchronizer) Score(role Role) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[role]
}

// RoundDecided reports whether this peer already scored in the current round.
func (s *Synchronizer) RoundDecided() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decided
}

// ResetRound clears the round-decided flag.
func (s *Synchronizer) ResetRound() {
	s.mu.Lock()
	s.decided = false
	s.mu.Unlock()
}

// Increment adds one point to role for the current round. Only the local
// counter may be incremented, and only once per round; later calls in the
// same round do nothing.
func (s *Synchronizer) Increment(ctx context.Context, role Role) error {
	if role != Local {
		return fmt.Errorf("increment %s: %w", role, ErrNotOwner)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	if s.decided {
		s.mu.Unlock()
		log.Debug().Msg("round already decided, ignoring increment")
		return nil
	}
	next := s.scores[Local] + 1
	s.scores[Local] = next
	s.decided = true
	fn := s.onChange
	s.mu.Unlock()

	if err := s.store.Set(ctx, s.Path(Local), store.Fields{"score": next}, true); err != nil {
		s.mu.Lock()
		if s.scores[Local] == next {
			s.scores[Local] = next - 1
			s.decided = false
		}
		s.mu.Unlock()
		log.Warn().Err(err).Str("call", s.callID).Msg("failed to write score")
		return err
	}

	if fn != nil {
		fn(Local, next)
	}
	return nil
}

// Observe mirrors the Score Record of role. Values only move forward.
func (s *Synchronizer) Observe(ctx context.Context, role Role) error {
	sub, err := s.store.WatchDocument(ctx, s.Path(role), func(snap store.Snapshot) {
		s.apply(role, snap)
	})
	if err != nil {
		return fmt.Errorf("observe %s score: %w", role, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Cancel()
		return store.ErrClosed
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return nil
}

func (s *Synchronizer) apply(role Role, snap store.Snapshot) {
	if !snap.Exists {
		return
	}
	v, ok := snap.Fields.Int("score")
	if !ok {
		log.Warn().Str("path", snap.Path).Msg("score record without score")
		return
	}

	s.mu.Lock()
	if v <= s.scores[role] {
		s.mu.Unlock()
		return
	}
	s.scores[role] = v
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(role, v)
	}
}

// Close cancels the watches. It is safe to call more than once.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
