// Package call negotiates a two-party WebRTC session through the document
// store: the offer and answer live in the call document and each side
// appends its ICE candidates to its own subcollection.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/store"
)

// Transport is the part of a peer connection the negotiator drives.
// *webrtc.PeerConnection satisfies it.
type Transport interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	SignalingState() webrtc.SignalingState
	Close() error
}

var _ Transport = (*webrtc.PeerConnection)(nil)

// LocalMedia reports whether the local capture is running.
type LocalMedia interface {
	Live() bool
}

// Role is the side of the call this peer plays.
type Role int

const (
	RoleNone Role = iota
	// RoleCaller created the call and sent the offer.
	RoleCaller
	// RoleCallee joined the call and sent the answer.
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "none"
	}
}

// writeTimeout bounds candidate writes triggered by the transport.
const writeTimeout = 10 * time.Second

type description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type callDoc struct {
	Offer  *description `json:"offer"`
	Answer *description `json:"answer"`
}

type candidateDoc struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment"`
}

// Negotiator owns the signaling of one call on one transport.
type Negotiator struct {
	store store.Store
	pc    Transport
	media LocalMedia

	// ctx bounds writes issued from transport callbacks; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	callID  string
	role    Role
	seen    map[string]bool
	applied []string
	queued  []queuedCandidate
	subs    []store.Subscription
	closed  bool

	// negotiating is held by CreateSession or JoinSession while it runs.
	negotiating bool
}

type queuedCandidate struct {
	id   string
	init webrtc.ICECandidateInit
}

// NewNegotiator prepares signaling for pc. media may be nil, in which case
// the peer can only join calls.
func NewNegotiator(st store.Store, pc Transport, media LocalMedia) *Negotiator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Negotiator{
		store:  st,
		pc:     pc,
		media:  media,
		ctx:    ctx,
		cancel: cancel,
		seen:   make(map[string]bool),
	}
}

// CallID returns the id of the active call, or "" before one exists.
func (n *Negotiator) CallID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.callID
}

// Role returns the side this peer plays in the active call.
func (n *Negotiator) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// AppliedCandidates returns the ids of remote candidates handed to the
// transport, in the order they were applied.
func (n *Negotiator) AppliedCandidates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.applied...)
}

// CreateSession starts a new call and returns its id. The offer is written
// to the call document; the answer and the callee's candidates are applied
// as they arrive.
func (n *Negotiator) CreateSession(ctx context.Context) (string, error) {
	if n.media == nil || !n.media.Live() {
		log.Error().Msg("cannot create call without local media")
		return "", newError("create call", "", ErrNoLocalMedia)
	}
	if err := n.begin(); err != nil {
		return "", err
	}
	defer n.release()

	id, err := n.store.NewDocID(ctx, store.CallsCollection)
	if err != nil {
		return "", newError("allocate call id", "", err)
	}
	callPath := store.CallPath(id)

	n.pc.OnICECandidate(n.publishCandidate(store.CandidatesPath(id, store.OfferCandidates)))

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return "", newError("create offer", id, err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return "", newError("set local description", id, err)
	}

	if err := n.store.Set(ctx, callPath, store.Fields{"offer": descriptionFields(offer)}, false); err != nil {
		return "", newError("write offer", id, err)
	}

	n.mu.Lock()
	n.callID = id
	n.role = RoleCaller
	n.mu.Unlock()

	answerSub, err := n.store.WatchDocument(ctx, callPath, n.onCallDocument)
	if err != nil {
		return "", newError("watch call", id, err)
	}
	n.track(answerSub)

	candSub, err := n.store.WatchCollection(ctx, store.CandidatesPath(id, store.AnswerCandidates), n.onRemoteCandidate)
	if err != nil {
		return "", newError("watch answer candidates", id, err)
	}
	n.track(candSub)

	log.Info().Str("call", id).Msg("call created")
	return id, nil
}

// JoinSession answers the offer of call id. Joining again once a call is
// active does nothing.
func (n *Negotiator) JoinSession(ctx context.Context, id string) error {
	if id == "" {
		return newError("join call", "", ErrMissingCallID)
	}

	n.mu.Lock()
	switch {
	case n.closed:
		n.mu.Unlock()
		return newError("join call", id, ErrClosed)
	case n.negotiating:
		n.mu.Unlock()
		return wrapError("join call", id, ErrUnexpectedSignalingState, "negotiation in progress")
	case n.callID != "":
		active := n.callID
		n.mu.Unlock()
		log.Debug().Str("call", id).Str("active", active).Msg("already in a call, ignoring join")
		return nil
	}
	n.negotiating = true
	n.mu.Unlock()
	defer n.release()

	callPath := store.CallPath(id)
	snap, err := n.store.Get(ctx, callPath)
	if err != nil {
		log.Error().Err(err).Str("call", id).Msg("failed to read call")
		return newError("read call", id, err)
	}

	var doc callDoc
	if snap.Exists {
		if err := snap.Decode(&doc); err != nil {
			log.Error().Err(err).Str("call", id).Msg("malformed call document")
			return newError("decode call", id, err)
		}
	}
	if doc.Offer == nil || doc.Offer.SDP == "" {
		log.Error().Str("call", id).Msg("call not found or has no offer")
		return newError("join call", id, ErrOfferNotFound)
	}

	if err := n.pc.SetRemoteDescription(sessionDescription(*doc.Offer)); err != nil {
		log.Error().Err(err).Str("call", id).Msg("failed to apply offer")
		return newError("set remote description", id, err)
	}

	if state := n.pc.SignalingState(); state != webrtc.SignalingStateHaveRemoteOffer {
		log.Error().Str("call", id).Stringer("state", state).Msg("offer did not leave the connection in have-remote-offer")
		return wrapError("join call", id, ErrUnexpectedSignalingState, state.String())
	}

	n.pc.OnICECandidate(n.publishCandidate(store.CandidatesPath(id, store.AnswerCandidates)))

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return newError("create answer", id, err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return newError("set local description", id, err)
	}

	if err := n.store.Set(ctx, callPath, store.Fields{"answer": descriptionFields(answer)}, true); err != nil {
		return newError("write answer", id, err)
	}

	n.mu.Lock()
	n.callID = id
	n.role = RoleCallee
	n.mu.Unlock()

	sub, err := n.store.WatchCollection(ctx, store.CandidatesPath(id, store.OfferCandidates), n.onRemoteCandidate)
	if err != nil {
		return newError("watch offer candidates", id, err)
	}
	n.track(sub)

	log.Info().Str("call", id).Msg("call joined")
	return nil
}

// Close cancels every watch and closes the transport. It is safe to call
// more than once.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	n.subs = nil
	n.queued = nil
	n.mu.Unlock()

	n.cancel()
	for _, s := range subs {
		s.Cancel()
	}
	return n.pc.Close()
}

func (n *Negotiator) begin() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return newError("create call", "", ErrClosed)
	}
	if n.negotiating {
		return wrapError("create call", "", ErrUnexpectedSignalingState, "negotiation in progress")
	}
	if n.callID != "" {
		return wrapError("create call", n.callID, ErrUnexpectedSignalingState, "call already active")
	}
	n.negotiating = true
	return nil
}

func (n *Negotiator) release() {
	n.mu.Lock()
	n.negotiating = false
	n.mu.Unlock()
}

func (n *Negotiator) track(sub store.Subscription) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		sub.Cancel()
		return
	}
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
}

// publishCandidate appends each locally gathered candidate to collection.
func (n *Negotiator) publishCandidate(collection string) func(*webrtc.ICECandidate) {
	return func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		fields := store.Fields{"candidate": init.Candidate}
		if init.SDPMid != nil {
			fields["sdpMid"] = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			fields["sdpMLineIndex"] = int64(*init.SDPMLineIndex)
		}
		if init.UsernameFragment != nil {
			fields["usernameFragment"] = *init.UsernameFragment
		}

		ctx, cancel := context.WithTimeout(n.ctx, writeTimeout)
		defer cancel()
		if _, err := n.store.Add(ctx, collection, fields); err != nil {
			log.Warn().Err(err).Str("collection", collection).Msg("failed to publish candidate")
		}
	}
}

// onCallDocument applies the answer once it appears on the call document.
func (n *Negotiator) onCallDocument(s store.Snapshot) {
	if !s.Exists {
		return
	}
	var doc callDoc
	if err := s.Decode(&doc); err != nil {
		log.Warn().Err(err).Str("path", s.Path).Msg("malformed call document")
		return
	}
	if doc.Answer == nil || doc.Answer.SDP == "" {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if n.pc.RemoteDescription() != nil {
		log.Debug().Str("call", n.callID).Msg("remote description already set, ignoring answer")
		return
	}
	if err := n.pc.SetRemoteDescription(sessionDescription(*doc.Answer)); err != nil {
		log.Error().Err(err).Str("call", n.callID).Msg("failed to apply answer")
		return
	}
	log.Debug().Str("call", n.callID).Msg("answer applied")
	n.flushLocked()
}

// onRemoteCandidate applies each candidate document at most once. Candidates
// that arrive before the remote description are held until it is set.
func (n *Negotiator) onRemoteCandidate(s store.Snapshot) {
	var doc candidateDoc
	if err := s.Decode(&doc); err != nil {
		log.Warn().Err(err).Str("path", s.Path).Msg("malformed candidate")
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.seen[s.ID] {
		return
	}
	n.seen[s.ID] = true

	if doc.Candidate == "" {
		log.Debug().Str("path", s.Path).Msg("skipping candidate without candidate field")
		return
	}

	init := webrtc.ICECandidateInit{
		Candidate:        doc.Candidate,
		SDPMid:           doc.SDPMid,
		SDPMLineIndex:    doc.SDPMLineIndex,
		UsernameFragment: doc.UsernameFragment,
	}
	if n.pc.RemoteDescription() == nil {
		n.queued = append(n.queued, queuedCandidate{id: s.ID, init: init})
		return
	}
	n.addLocked(s.ID, init)
}

func (n *Negotiator) flushLocked() {
	queued := n.queued
	n.queued = nil
	for _, q := range queued {
		n.addLocked(q.id, q.init)
	}
}

func (n *Negotiator) addLocked(id string, init webrtc.ICECandidateInit) {
	if err := n.pc.AddICECandidate(init); err != nil {
		log.Warn().Err(err).Str("candidate", id).Msg("failed to add ICE candidate")
		return
	}
	n.applied = append(n.applied, id)
}

func descriptionFields(d webrtc.SessionDescription) store.Fields {
	return store.Fields{"type": d.Type.String(), "sdp": d.SDP}
}

func sessionDescription(d description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}
