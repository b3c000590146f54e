package session

import (
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/1ureka/1ureka.net.mesh/internal/protocol"
	"github.com/1ureka/1ureka.net.mesh/internal/signaling"
)

// Compile-time interface checks.
var (
	_ Transport = (*scriptTransport)(nil)
	_ peerHost  = (*scriptHost)(nil)
)

// scriptTransport implements Transport with canned negotiation results and
// lets tests fire the callbacks a real transport would.
type scriptTransport struct {
	mu          sync.Mutex
	onCandidate func(string)
	onOpen      func()
	onMessage   func([]byte)
	onState     func(ConnState)

	sent       [][]byte
	candidates []string
	closed     bool
}

func (s *scriptTransport) CreateOffer() (string, error)         { return "offer-sdp", nil }
func (s *scriptTransport) HandleOffer(string) (string, error)   { return "answer-sdp", nil }
func (s *scriptTransport) HandleAnswer(string) error            { return nil }
func (s *scriptTransport) OnCandidate(fn func(string))          { s.mu.Lock(); s.onCandidate = fn; s.mu.Unlock() }
func (s *scriptTransport) OnOpen(fn func())                     { s.mu.Lock(); s.onOpen = fn; s.mu.Unlock() }
func (s *scriptTransport) OnMessage(fn func([]byte))            { s.mu.Lock(); s.onMessage = fn; s.mu.Unlock() }
func (s *scriptTransport) OnStateChange(fn func(ConnState))     { s.mu.Lock(); s.onState = fn; s.mu.Unlock() }

func (s *scriptTransport) AddCandidate(c string) error {
	s.mu.Lock()
	s.candidates = append(s.candidates, c)
	s.mu.Unlock()
	return nil
}

func (s *scriptTransport) Send(data []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, data)
	s.mu.Unlock()
	return nil
}

func (s *scriptTransport) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptTransport) sentEnvelopes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

func (s *scriptTransport) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fire* invoke the registered callbacks the way a real transport would, from
// a foreign goroutine's point of view.
func (s *scriptTransport) fireOpen() {
	s.mu.Lock()
	fn := s.onOpen
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *scriptTransport) fireMessage(data []byte) {
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (s *scriptTransport) fireCandidate(c string) {
	s.mu.Lock()
	fn := s.onCandidate
	s.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (s *scriptTransport) fireState(st ConnState) {
	s.mu.Lock()
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// scriptHost implements peerHost and records everything the peer reports.
type scriptHost struct {
	mu        sync.Mutex
	signals   []*signaling.Message
	connected []string
	closed    []string
	envelopes []*protocol.Envelope

	presence    msgpack.RawMessage
	hasPresence bool
}

func (h *scriptHost) sendSignal(msg *signaling.Message) {
	h.mu.Lock()
	h.signals = append(h.signals, msg)
	h.mu.Unlock()
}

func (h *scriptHost) localPresence() (msgpack.RawMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presence, h.hasPresence
}

func (h *scriptHost) peerConnected(p *Peer) {
	h.mu.Lock()
	h.connected = append(h.connected, p.ID())
	h.mu.Unlock()
}

func (h *scriptHost) peerClosed(id string) {
	h.mu.Lock()
	h.closed = append(h.closed, id)
	h.mu.Unlock()
}

func (h *scriptHost) peerEnvelope(p *Peer, env *protocol.Envelope) {
	h.mu.Lock()
	h.envelopes = append(h.envelopes, env)
	h.mu.Unlock()
}

func (h *scriptHost) signalOfType(t signaling.MessageType) *signaling.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.signals {
		if m.Type == t {
			return m
		}
	}
	return nil
}

func (h *scriptHost) envelopeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.envelopes)
}

func (h *scriptHost) closedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.closed)
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func newScriptedPeer(t *testing.T, role Role, host *scriptHost) (*Peer, *scriptTransport) {
	t.Helper()

	tr := &scriptTransport{}
	p, err := newPeer("remote-1", role, host, func(bool) (Transport, error) { return tr, nil })
	if err != nil {
		t.Fatalf("newPeer: %v", err)
	}
	t.Cleanup(p.Close)
	return p, tr
}

// TestInitiatorSendsOffer verifies that an initiator handle immediately
// negotiates: it moves to Negotiating and emits an offer for its peer.
func TestInitiatorSendsOffer(t *testing.T) {
	host := &scriptHost{}
	p, _ := newScriptedPeer(t, RoleInitiator, host)

	waitFor(t, time.Second, "offer signal", func() bool {
		return host.signalOfType(signaling.MsgTypeOffer) != nil
	})

	offer := host.signalOfType(signaling.MsgTypeOffer)
	if offer.PeerID != "remote-1" || offer.SDP != "offer-sdp" {
		t.Fatalf("offer = %+v", offer)
	}
	if got := p.State(); got != StateNegotiating {
		t.Fatalf("state = %s, want negotiating", got)
	}
}

// TestResponderAnswersOffer verifies that a responder handle stays idle until
// an offer arrives, then emits an answer.
func TestResponderAnswersOffer(t *testing.T) {
	host := &scriptHost{}
	p, _ := newScriptedPeer(t, RoleResponder, host)

	if got := p.State(); got != StateNew {
		t.Fatalf("initial state = %s, want new", got)
	}

	p.postOffer("their-offer")

	waitFor(t, time.Second, "answer signal", func() bool {
		return host.signalOfType(signaling.MsgTypeAnswer) != nil
	})

	answer := host.signalOfType(signaling.MsgTypeAnswer)
	if answer.PeerID != "remote-1" || answer.SDP != "answer-sdp" {
		t.Fatalf("answer = %+v", answer)
	}
}

// TestChannelOpenConnectsAndSeedsPresence verifies the Negotiating →
// Connected transition: the host is notified and the local presence is
// pushed as the first envelope.
func TestChannelOpenConnectsAndSeedsPresence(t *testing.T) {
	pres, _ := msgpack.Marshal("here")
	host := &scriptHost{presence: pres, hasPresence: true}
	p, tr := newScriptedPeer(t, RoleInitiator, host)

	waitFor(t, time.Second, "offer signal", func() bool {
		return host.signalOfType(signaling.MsgTypeOffer) != nil
	})

	tr.fireOpen()

	waitFor(t, time.Second, "connected state", func() bool {
		return p.State() == StateConnected
	})

	envs := tr.sentEnvelopes()
	if len(envs) != 1 {
		t.Fatalf("sent %d envelopes, want 1 (seeded presence)", len(envs))
	}
	env, err := protocol.Decode(envs[0])
	if err != nil {
		t.Fatalf("decode seeded envelope: %v", err)
	}
	if env.Kind != protocol.KindPresence {
		t.Fatalf("seeded kind = %q, want presence", env.Kind)
	}

	host.mu.Lock()
	connected := append([]string(nil), host.connected...)
	host.mu.Unlock()
	if len(connected) != 1 || connected[0] != "remote-1" {
		t.Fatalf("connected callbacks = %v", connected)
	}
}

// TestOpenWithoutNegotiationIgnored verifies that a stray channel-open on an
// idle responder does not fabricate a connection.
func TestOpenWithoutNegotiationIgnored(t *testing.T) {
	host := &scriptHost{}
	p, tr := newScriptedPeer(t, RoleResponder, host)

	tr.fireOpen()

	// Give the actor a moment to (not) react.
	time.Sleep(50 * time.Millisecond)
	if got := p.State(); got != StateNew {
		t.Fatalf("state = %s, want new", got)
	}
}

// TestSendBeforeReady verifies the not-ready error path.
func TestSendBeforeReady(t *testing.T) {
	host := &scriptHost{}
	p, _ := newScriptedPeer(t, RoleInitiator, host)

	if err := p.SendEnvelope([]byte("x")); err != ErrChannelNotReady {
		t.Fatalf("err = %v, want ErrChannelNotReady", err)
	}
}

// TestInboundEnvelopes verifies dispatch of known kinds, presence capture,
// and silent dropping of unknown kinds and undecodable data.
func TestInboundEnvelopes(t *testing.T) {
	host := &scriptHost{}
	p, tr := newScriptedPeer(t, RoleInitiator, host)

	broadcast, _ := protocol.Encode(protocol.KindBroadcast, "hi")
	tr.fireMessage(broadcast)

	waitFor(t, time.Second, "broadcast envelope", func() bool {
		return host.envelopeCount() == 1
	})

	presBody, _ := msgpack.Marshal("busy")
	presEnv, _ := protocol.Encode(protocol.KindPresence, msgpack.RawMessage(presBody))
	tr.fireMessage(presEnv)

	waitFor(t, time.Second, "presence envelope", func() bool {
		return host.envelopeCount() == 2
	})

	raw, ok := p.Presence()
	if !ok {
		t.Fatal("presence not captured")
	}
	var status string
	if err := protocol.Unmarshal(raw, &status); err != nil || status != "busy" {
		t.Fatalf("captured presence = %q (%v), want busy", status, err)
	}

	// Unknown kind and garbage are both dropped without reaching the host.
	unknown, _ := protocol.Encode("z", "future")
	tr.fireMessage(unknown)
	tr.fireMessage([]byte{0xDE, 0xAD})

	time.Sleep(50 * time.Millisecond)
	if got := host.envelopeCount(); got != 2 {
		t.Fatalf("envelope count = %d, want 2", got)
	}
}

// TestTerminalTransportStateCloses verifies that a terminal connectivity
// report tears the handle down exactly once.
func TestTerminalTransportStateCloses(t *testing.T) {
	host := &scriptHost{}
	p, tr := newScriptedPeer(t, RoleInitiator, host)

	tr.fireState(ConnStateFailed)

	waitFor(t, time.Second, "closed state", func() bool {
		return p.State() == StateClosed
	})
	waitFor(t, time.Second, "transport release", tr.isClosed)

	// A second terminal report or explicit Close must not double-notify.
	tr.fireState(ConnStateClosed)
	p.Close()

	time.Sleep(50 * time.Millisecond)
	if got := host.closedCount(); got != 1 {
		t.Fatalf("peerClosed called %d times, want 1", got)
	}
}

// TestNonTerminalStateIgnored verifies that transient connectivity states do
// not kill the handle.
func TestNonTerminalStateIgnored(t *testing.T) {
	host := &scriptHost{}
	p, tr := newScriptedPeer(t, RoleInitiator, host)

	tr.fireState(ConnStateConnecting)

	time.Sleep(50 * time.Millisecond)
	if got := p.State(); got == StateClosed {
		t.Fatal("connecting state closed the handle")
	}
}

// TestLocalCandidateForwarded verifies that locally gathered candidates are
// relayed toward the peer.
func TestLocalCandidateForwarded(t *testing.T) {
	host := &scriptHost{}
	_, tr := newScriptedPeer(t, RoleInitiator, host)

	tr.fireCandidate("cand-1")

	waitFor(t, time.Second, "candidate signal", func() bool {
		return host.signalOfType(signaling.MsgTypeCandidate) != nil
	})

	cand := host.signalOfType(signaling.MsgTypeCandidate)
	if cand.PeerID != "remote-1" || cand.Candidate != "cand-1" {
		t.Fatalf("candidate = %+v", cand)
	}
}

// TestRemoteCandidateApplied verifies that relayed candidates reach the
// transport.
func TestRemoteCandidateApplied(t *testing.T) {
	host := &scriptHost{}
	p, tr := newScriptedPeer(t, RoleResponder, host)

	p.postCandidate("remote-cand")

	waitFor(t, time.Second, "candidate applied", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.candidates) == 1 && tr.candidates[0] == "remote-cand"
	})
}
