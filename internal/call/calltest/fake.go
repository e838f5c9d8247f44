// Package calltest provides an in-memory call.Transport for tests.
package calltest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

var errClosed = errors.New("transport closed")

// FakeTransport follows the offer/answer signaling state machine without
// touching the network.
type FakeTransport struct {
	// Name appears in the fake SDP so descriptions can be told apart.
	Name string

	// StuckSignaling keeps the signaling state at stable after a remote
	// offer is applied.
	StuckSignaling bool

	mu          sync.Mutex
	state       webrtc.SignalingState
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	onCandidate func(*webrtc.ICECandidate)
	remoteSets  int
	closed      bool
}

// New returns a transport in the stable state.
func New(name string) *FakeTransport {
	return &FakeTransport{Name: name, state: webrtc.SignalingStateStable}
}

func (f *FakeTransport) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return webrtc.SessionDescription{}, errClosed
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer from " + f.Name}, nil
}

func (f *FakeTransport) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return webrtc.SessionDescription{}, errClosed
	}
	if f.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in state %s", f.state)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer from " + f.Name}, nil
}

func (f *FakeTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		f.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		f.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("unsupported local description %s", desc.Type)
	}
	f.local = &desc
	return nil
}

func (f *FakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if !f.StuckSignaling {
			f.state = webrtc.SignalingStateHaveRemoteOffer
		}
	case webrtc.SDPTypeAnswer:
		if f.state != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("remote answer in state %s", f.state)
		}
		f.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("unsupported remote description %s", desc.Type)
	}
	f.remote = &desc
	f.remoteSets++
	return nil
}

func (f *FakeTransport) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

// LocalDescription returns the applied local description.
func (f *FakeTransport) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *FakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed
	}
	if f.remote == nil {
		return errors.New("remote description not set")
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *FakeTransport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *FakeTransport) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.state = webrtc.SignalingStateClosed
	return nil
}

// EmitCandidate feeds a locally gathered host candidate to the registered
// handler, as the ICE agent would.
func (f *FakeTransport) EmitCandidate(port uint16) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn == nil {
		return
	}
	fn(&webrtc.ICECandidate{
		Foundation: fmt.Sprintf("%d", port),
		Priority:   2130706431,
		Address:    "192.0.2.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
}

// Candidates returns the remote candidates added so far.
func (f *FakeTransport) Candidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

// RemoteDescriptionSets counts successful SetRemoteDescription calls.
func (f *FakeTransport) RemoteDescriptionSets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteSets
}

// Closed reports whether Close was called.
func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Media is a call.LocalMedia stub.
type Media bool

func (m Media) Live() bool { return bool(m) }
