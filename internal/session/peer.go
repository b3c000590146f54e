package session

import (
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/1ureka/1ureka.net.mesh/internal/protocol"
	"github.com/1ureka/1ureka.net.mesh/internal/signaling"
	"github.com/1ureka/1ureka.net.mesh/internal/util"
)

// State is the lifecycle state of a peer handle.
type State int32

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateClosed // terminal
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role determines which side drives the negotiation.
type Role int

const (
	// RoleInitiator creates the channel and sends the offer. Used for
	// peers learned from the member list at join time.
	RoleInitiator Role = iota

	// RoleResponder answers an inbound offer. Used for peers first seen
	// through the relay after joining.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// peerHost is what a peer needs from its owning session. Split out so the
// state machine can be driven by a scripted host in tests.
type peerHost interface {
	sendSignal(msg *signaling.Message)
	localPresence() (msgpack.RawMessage, bool)
	peerConnected(p *Peer)
	peerClosed(id string)
	peerEnvelope(p *Peer, env *protocol.Envelope)
}

type eventKind int

const (
	evStart eventKind = iota // initiator only: kick off negotiation
	evOffer
	evAnswer
	evCandidate      // remote candidate from the relay
	evLocalCandidate // locally gathered candidate to forward
	evOpen           // channel ready
	evMessage        // inbound channel data
	evConnState      // transport connectivity change
)

// peerEvent is one unit of work for the peer actor. External callbacks are
// translated into events posted to the actor's inbox rather than handled
// inline, so negotiation steps never race or re-enter.
type peerEvent struct {
	kind      eventKind
	sdp       string
	candidate string
	data      []byte
	state     ConnState
}

// Peer represents one remote participant: its negotiation state machine,
// its channel, and its last-known presence. All state transitions happen on
// the single actor goroutine started by newPeer.
type Peer struct {
	id   string
	role Role
	tr   Transport
	host peerHost

	state atomic.Int32

	inbox     chan peerEvent
	done      chan struct{}
	closeOnce sync.Once

	presenceMu  sync.RWMutex
	presence    msgpack.RawMessage
	hasPresence bool
}

// newPeer creates a handle for the given remote identifier, wires the
// transport callbacks into the actor inbox, and starts the actor. An
// initiator immediately begins negotiating.
func newPeer(id string, role Role, host peerHost, factory TransportFactory) (*Peer, error) {
	tr, err := factory(role == RoleInitiator)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		id:    id,
		role:  role,
		tr:    tr,
		host:  host,
		inbox: make(chan peerEvent, 32),
		done:  make(chan struct{}),
	}

	tr.OnCandidate(func(c string) { p.post(peerEvent{kind: evLocalCandidate, candidate: c}) })
	tr.OnOpen(func() { p.post(peerEvent{kind: evOpen}) })
	tr.OnMessage(func(data []byte) { p.post(peerEvent{kind: evMessage, data: data}) })
	tr.OnStateChange(func(s ConnState) { p.post(peerEvent{kind: evConnState, state: s}) })

	go p.run()

	if role == RoleInitiator {
		p.post(peerEvent{kind: evStart})
	}

	return p, nil
}

// ID returns the stable, relay-assigned peer identifier.
func (p *Peer) ID() string { return p.id }

// Role returns which side of the negotiation this handle drives.
func (p *Peer) Role() Role { return p.role }

// State returns the current lifecycle state.
func (p *Peer) State() State { return State(p.state.Load()) }

func (p *Peer) setState(s State) { p.state.Store(int32(s)) }

// Presence returns the last-known presence received from this peer.
func (p *Peer) Presence() (msgpack.RawMessage, bool) {
	p.presenceMu.RLock()
	defer p.presenceMu.RUnlock()
	return p.presence, p.hasPresence
}

func (p *Peer) setPresence(body msgpack.RawMessage) {
	p.presenceMu.Lock()
	p.presence = body
	p.hasPresence = true
	p.presenceMu.Unlock()
}

// SendEnvelope writes an already-encoded envelope to the peer channel.
// Returns ErrChannelNotReady unless the handle is Connected.
func (p *Peer) SendEnvelope(data []byte) error {
	if p.State() != StateConnected {
		return ErrChannelNotReady
	}
	if err := p.tr.Send(data); err != nil {
		return err
	}
	util.Stats.AddSent(len(data))
	return nil
}

// Close moves the handle to Closed, releases the transport, and notifies
// the owning session. Exactly once; later calls are no-ops.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.setState(StateClosed)
		close(p.done)
		p.tr.Close()
		p.host.peerClosed(p.id)
	})
}

// post delivers an event to the actor, giving up once the handle closes.
func (p *Peer) post(ev peerEvent) {
	select {
	case p.inbox <- ev:
	case <-p.done:
	}
}

// postOffer routes a relayed offer to the actor.
func (p *Peer) postOffer(sdp string) { p.post(peerEvent{kind: evOffer, sdp: sdp}) }

// postAnswer routes a relayed answer to the actor.
func (p *Peer) postAnswer(sdp string) { p.post(peerEvent{kind: evAnswer, sdp: sdp}) }

// postCandidate routes a relayed remote candidate to the actor.
func (p *Peer) postCandidate(c string) { p.post(peerEvent{kind: evCandidate, candidate: c}) }

// run is the actor loop: the single goroutine that advances the state
// machine.
func (p *Peer) run() {
	for {
		select {
		case ev := <-p.inbox:
			p.handle(ev)
		case <-p.done:
			return
		}
	}
}

func (p *Peer) handle(ev peerEvent) {
	switch ev.kind {
	case evStart:
		p.setState(StateNegotiating)
		sdp, err := p.tr.CreateOffer()
		if err != nil {
			util.LogWarning("[%s] failed to create offer: %v", p.id, err)
			p.Close()
			return
		}
		p.host.sendSignal(&signaling.Message{Type: signaling.MsgTypeOffer, PeerID: p.id, SDP: sdp})

	case evOffer:
		if st := p.State(); st == StateConnected || st == StateClosed {
			// Renegotiation is not the core's business.
			util.LogDebug("[%s] ignoring offer in state %s", p.id, st)
			return
		}
		p.setState(StateNegotiating)
		answer, err := p.tr.HandleOffer(ev.sdp)
		if err != nil {
			util.LogWarning("[%s] failed to answer offer: %v", p.id, err)
			p.Close()
			return
		}
		p.host.sendSignal(&signaling.Message{Type: signaling.MsgTypeAnswer, PeerID: p.id, SDP: answer})

	case evAnswer:
		if err := p.tr.HandleAnswer(ev.sdp); err != nil {
			util.LogWarning("[%s] failed to apply answer: %v", p.id, err)
			p.Close()
		}

	case evCandidate:
		if err := p.tr.AddCandidate(ev.candidate); err != nil {
			util.LogDebug("[%s] failed to add candidate: %v", p.id, err)
		}

	case evLocalCandidate:
		p.host.sendSignal(&signaling.Message{Type: signaling.MsgTypeCandidate, PeerID: p.id, Candidate: ev.candidate})

	case evOpen:
		// Readiness is channel-level: negotiation may have completed long
		// before this fires.
		if p.State() != StateNegotiating {
			return
		}
		p.setState(StateConnected)
		util.LogDebug("[%s] channel open (%s)", p.id, p.role)
		p.seedPresence()
		p.host.peerConnected(p)

	case evMessage:
		p.handleMessage(ev.data)

	case evConnState:
		if ev.state.Terminal() {
			util.LogDebug("[%s] transport reported %s", p.id, ev.state)
			p.Close()
		}
	}
}

// seedPresence pushes the local presence value so the remote side learns it
// without an explicit request. Skipped when the application never set one.
func (p *Peer) seedPresence() {
	pres, ok := p.host.localPresence()
	if !ok {
		return
	}
	data, err := protocol.Encode(protocol.KindPresence, pres)
	if err != nil {
		util.LogWarning("[%s] failed to encode presence: %v", p.id, err)
		return
	}
	if err := p.SendEnvelope(data); err != nil {
		util.LogDebug("[%s] failed to seed presence: %v", p.id, err)
	}
}

func (p *Peer) handleMessage(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		util.LogDebug("[%s] undecodable envelope: %v", p.id, err)
		return
	}
	util.Stats.AddRecv(len(data))

	if !protocol.KnownKind(env.Kind) {
		// Forward-compatible: unknown kinds are dropped silently.
		util.LogDebug("[%s] dropping envelope of unknown kind %q", p.id, env.Kind)
		return
	}

	if env.Kind == protocol.KindPresence {
		p.setPresence(env.Body)
	}
	p.host.peerEnvelope(p, env)
}
