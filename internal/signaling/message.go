// Package signaling defines the relay control-socket protocol and the
// client-side link used to reach the relay. Messages are JSON over a
// persistent WebSocket; the relay never inspects SDP or candidate payloads.
package signaling

// MessageType identifies the kind of control-socket message.
type MessageType string

const (
	// Relay → client, sent once immediately after the socket is accepted.
	// Carries the relay-assigned connection identifier in ID.
	MsgTypeWelcome MessageType = "welcome"

	// Client → relay: join the room named in Room.
	MsgTypeJoin MessageType = "join"

	// Relay → client: reply to a join. Peers holds the identifiers of the
	// room members at join time, excluding the joiner itself.
	MsgTypePeers MessageType = "peers"

	// Negotiation messages, forwarded verbatim to the connection whose
	// identifier equals PeerID. SourcePeerID is stamped by the relay.
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"

	// Relay → remaining room members when a connection departs. ID holds
	// the identifier of the departed connection.
	MsgTypePeerDisconnected MessageType = "peer-disconnected"
)

// Message is the JSON structure exchanged over the relay control socket.
// Which fields are populated depends on Type.
type Message struct {
	Type MessageType `json:"type"`

	Room  string   `json:"room,omitempty"`  // join
	ID    string   `json:"id,omitempty"`    // welcome, peer-disconnected
	Peers []string `json:"peers,omitempty"` // peers

	SDP          string `json:"sdp,omitempty"`       // offer, answer
	Candidate    string `json:"candidate,omitempty"` // candidate (JSON-encoded ICECandidateInit)
	PeerID       string `json:"peerId,omitempty"`    // offer/answer/candidate target
	SourcePeerID string `json:"sourcePeerId,omitempty"`
}

// IsSignal reports whether t is one of the forwarded negotiation kinds.
func IsSignal(t MessageType) bool {
	return t == MsgTypeOffer || t == MsgTypeAnswer || t == MsgTypeCandidate
}
