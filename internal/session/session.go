// Package session implements the client side of the mesh: the session
// manager owning the peer set and the per-peer negotiation state machines.
// After connection setup, application traffic flows peer-to-peer; the relay
// is only consulted for membership and negotiation transfer.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/1ureka/1ureka.net.mesh/internal/protocol"
	"github.com/1ureka/1ureka.net.mesh/internal/signaling"
	"github.com/1ureka/1ureka.net.mesh/internal/util"
)

// Events raised by a Session. All callbacks are optional, must be set
// before Connect, and are invoked from session-internal goroutines — they
// must not block.
type Events struct {
	// Connected fires once the control session is established,
	// independently of any peer connections.
	Connected func(selfID string)

	// PeerConnected fires when a peer channel opens.
	PeerConnected func(peerID string)

	// PeerDisconnected fires when a peer handle reaches its terminal
	// state and is removed from the known set.
	PeerDisconnected func(peerID string)

	// Broadcast and DirectMessage fire for inbound application messages.
	Broadcast     func(peerID string, body msgpack.RawMessage)
	DirectMessage func(peerID string, body msgpack.RawMessage)

	// PeerPresenceChanged fires when a peer pushes a presence update.
	PeerPresenceChanged func(peerID string, presence msgpack.RawMessage)

	// RelayClosed fires when the control socket drops. The session keeps
	// serving established peer channels; no reconnection is attempted.
	RelayClosed func()
}

// Session is the client session manager: it owns topic membership, local
// presence, and the set of peer handles.
type Session struct {
	newTransport TransportFactory
	events       Events

	selfID string
	topic  string
	link   RelayLink

	mu    sync.RWMutex
	peers map[string]*Peer

	presenceMu  sync.RWMutex
	presence    msgpack.RawMessage
	hasPresence bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a session that builds peer transports with the given factory.
func New(factory TransportFactory, events Events) *Session {
	return &Session{
		newTransport: factory,
		events:       events,
		peers:        make(map[string]*Peer),
		done:         make(chan struct{}),
	}
}

// Connect dials the relay, joins the topic, and creates an initiator-role
// handle for every member already present. It returns once the member
// snapshot has been processed; peer channels open asynchronously.
func Connect(ctx context.Context, factory TransportFactory, events Events, serverURL, topic string) (*Session, error) {
	s := New(factory, events)

	link, err := signaling.Dial(ctx, serverURL)
	if err != nil {
		return nil, err
	}

	if err := s.attach(ctx, link, topic); err != nil {
		link.Close()
		return nil, err
	}
	return s, nil
}

// attach runs the join handshake over an already-established link and
// starts the control loop.
func (s *Session) attach(ctx context.Context, link RelayLink, topic string) error {
	s.link = link
	s.topic = topic

	// The relay speaks first: a welcome carrying our assigned identifier.
	select {
	case msg, ok := <-link.Incoming():
		if !ok {
			return ErrRelayClosed
		}
		if msg.Type != signaling.MsgTypeWelcome || msg.ID == "" {
			return fmt.Errorf("expected welcome from relay, got %q", msg.Type)
		}
		s.selfID = msg.ID
	case <-ctx.Done():
		return ctx.Err()
	}

	util.LogInfo("control session established, self id %s", s.selfID)
	if s.events.Connected != nil {
		s.events.Connected(s.selfID)
	}

	if err := link.Send(&signaling.Message{Type: signaling.MsgTypeJoin, Room: topic}); err != nil {
		return fmt.Errorf("failed to join topic %q: %w", topic, err)
	}

	// Wait for the member snapshot. Anything else that slips in ahead of
	// it goes through the normal dispatch path.
	for {
		select {
		case msg, ok := <-link.Incoming():
			if !ok {
				return ErrRelayClosed
			}
			if msg.Type == signaling.MsgTypePeers {
				for _, id := range msg.Peers {
					s.addPeer(id, RoleInitiator)
				}
				go s.controlLoop()
				return nil
			}
			s.handleRelayMessage(msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SelfID returns the relay-assigned identifier of this client.
func (s *Session) SelfID() string { return s.selfID }

// Topic returns the joined topic name.
func (s *Session) Topic() string { return s.topic }

// Peers returns the identifiers of all currently known peer handles.
func (s *Session) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast sends body to every peer whose channel is open. Peers still
// negotiating are skipped; there is no queueing for them.
func (s *Session) Broadcast(body any) error {
	data, err := protocol.Encode(protocol.KindBroadcast, body)
	if err != nil {
		return err
	}
	s.fanOut(data)
	return nil
}

// DirectMessage sends body to a single peer. Fails with ErrUnknownPeer if
// no handle exists and ErrChannelNotReady if the channel is not yet open.
func (s *Session) DirectMessage(peerID string, body any) error {
	p := s.peer(peerID)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	data, err := protocol.Encode(protocol.KindDirect, body)
	if err != nil {
		return err
	}
	return p.SendEnvelope(data)
}

// UpdatePresence stores v as the local presence and pushes it to every
// connected peer. Peers that connect later receive it when their channel
// opens.
func (s *Session) UpdatePresence(v any) error {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}

	s.presenceMu.Lock()
	s.presence = raw
	s.hasPresence = true
	s.presenceMu.Unlock()

	data, err := protocol.Encode(protocol.KindPresence, msgpack.RawMessage(raw))
	if err != nil {
		return err
	}
	s.fanOut(data)
	return nil
}

// Presence returns the last-known presence for the given peer, or false if
// the peer is unknown or has never pushed one.
func (s *Session) Presence(peerID string) (msgpack.RawMessage, bool) {
	p := s.peer(peerID)
	if p == nil {
		return nil, false
	}
	return p.Presence()
}

// Close shuts down the control socket and every peer handle. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.link != nil {
			s.link.Close()
		}
		for _, p := range s.snapshot() {
			p.Close()
		}
	})
	return nil
}

// ---------------------------------------------------------------------------
// Relay event routing
// ---------------------------------------------------------------------------

// controlLoop consumes relay messages until the socket drops or the
// session closes. It is the only goroutine interpreting relay traffic.
func (s *Session) controlLoop() {
	for {
		select {
		case msg, ok := <-s.link.Incoming():
			if !ok {
				util.LogWarning("relay connection closed")
				if s.events.RelayClosed != nil {
					s.events.RelayClosed()
				}
				return
			}
			s.handleRelayMessage(msg)
		case <-s.done:
			return
		}
	}
}

func (s *Session) handleRelayMessage(msg *signaling.Message) {
	switch msg.Type {
	case signaling.MsgTypeOffer:
		// First contact from a later joiner: create the responder handle.
		p := s.peer(msg.SourcePeerID)
		if p == nil {
			p = s.addPeer(msg.SourcePeerID, RoleResponder)
			if p == nil {
				return
			}
		}
		p.postOffer(msg.SDP)

	case signaling.MsgTypeAnswer:
		// An answer can only follow our own offer, so an unknown source
		// means the handle already died. Drop.
		if p := s.peer(msg.SourcePeerID); p != nil {
			p.postAnswer(msg.SDP)
		} else {
			util.LogDebug("answer from unknown peer %s", msg.SourcePeerID)
		}

	case signaling.MsgTypeCandidate:
		// The control socket is ordered, so a candidate never precedes
		// the offer that introduces its sender.
		if p := s.peer(msg.SourcePeerID); p != nil {
			p.postCandidate(msg.Candidate)
		} else {
			util.LogDebug("candidate from unknown peer %s", msg.SourcePeerID)
		}

	case signaling.MsgTypePeerDisconnected:
		if p := s.peer(msg.ID); p != nil {
			util.LogDebug("[%s] left the topic", msg.ID)
			p.Close()
		}

	default:
		util.LogDebug("unexpected relay message %q", msg.Type)
	}
}

// ---------------------------------------------------------------------------
// Peer set
// ---------------------------------------------------------------------------

func (s *Session) peer(id string) *Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[id]
}

func (s *Session) snapshot() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// addPeer creates a handle for id unless one already exists; a second
// sighting of the same identifier is a no-op against the existing handle.
func (s *Session) addPeer(id string, role Role) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.peers[id]; ok {
		return p
	}

	p, err := newPeer(id, role, s, s.newTransport)
	if err != nil {
		util.LogWarning("[%s] failed to create transport: %v", id, err)
		return nil
	}
	s.peers[id] = p
	util.LogDebug("[%s] handle created (%s)", id, role)
	return p
}

// fanOut sends an encoded envelope to every connected peer. Handles whose
// channel is not open are skipped silently.
func (s *Session) fanOut(data []byte) {
	for _, p := range s.snapshot() {
		if err := p.SendEnvelope(data); err != nil && err != ErrChannelNotReady {
			util.LogWarning("[%s] send failed: %v", p.ID(), err)
		}
	}
}

// ---------------------------------------------------------------------------
// peerHost implementation
// ---------------------------------------------------------------------------

func (s *Session) sendSignal(msg *signaling.Message) {
	msg.SourcePeerID = s.selfID
	if err := s.link.Send(msg); err != nil {
		util.LogWarning("failed to send %s to relay: %v", msg.Type, err)
	}
}

func (s *Session) localPresence() (msgpack.RawMessage, bool) {
	s.presenceMu.RLock()
	defer s.presenceMu.RUnlock()
	return s.presence, s.hasPresence
}

func (s *Session) peerConnected(p *Peer) {
	util.Stats.AddPeer()
	util.LogInfo("[%s] peer connected (%s)", p.ID(), p.Role())
	if s.events.PeerConnected != nil {
		s.events.PeerConnected(p.ID())
	}
}

func (s *Session) peerClosed(id string) {
	s.mu.Lock()
	_, known := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()

	if !known {
		return
	}
	util.Stats.RemovePeer()
	util.LogInfo("[%s] peer disconnected", id)
	if s.events.PeerDisconnected != nil {
		s.events.PeerDisconnected(id)
	}
}

func (s *Session) peerEnvelope(p *Peer, env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindPresence:
		if s.events.PeerPresenceChanged != nil {
			s.events.PeerPresenceChanged(p.ID(), env.Body)
		}
	case protocol.KindBroadcast:
		if s.events.Broadcast != nil {
			s.events.Broadcast(p.ID(), env.Body)
		}
	case protocol.KindDirect:
		if s.events.DirectMessage != nil {
			s.events.DirectMessage(p.ID(), env.Body)
		}
	}
}
