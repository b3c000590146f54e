package session

import "github.com/1ureka/1ureka.net.mesh/internal/signaling"

// ConnState is the connectivity state reported by the transport capability.
type ConnState int

const (
	ConnStateNew ConnState = iota
	ConnStateConnecting
	ConnStateConnected
	ConnStateDisconnected
	ConnStateFailed
	ConnStateClosed
)

// Terminal reports whether the state ends the transport's life. A terminal
// state moves the owning peer to Closed; no reconnection is attempted.
func (s ConnState) Terminal() bool {
	return s == ConnStateDisconnected || s == ConnStateFailed || s == ConnStateClosed
}

func (s ConnState) String() string {
	switch s {
	case ConnStateNew:
		return "new"
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateDisconnected:
		return "disconnected"
	case ConnStateFailed:
		return "failed"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the external real-time transport capability for one peer:
// it accepts local/remote session descriptions and candidates, and reports
// channel readiness, inbound data, and connectivity changes. Negotiation
// mechanics (ICE gathering, DTLS, NAT traversal) are its business alone.
//
// Callbacks must be registered before negotiation begins and may be invoked
// from the transport's own goroutines.
type Transport interface {
	// CreateOffer produces a local offer, applies it as the local
	// description, and returns its SDP.
	CreateOffer() (string, error)

	// HandleOffer applies a remote offer, produces and applies a local
	// answer, and returns the answer's SDP.
	HandleOffer(sdp string) (string, error)

	// HandleAnswer applies a remote answer to a previously created offer.
	HandleAnswer(sdp string) error

	// AddCandidate incorporates a remote candidate into the negotiation.
	AddCandidate(candidate string) error

	// OnCandidate registers the callback for locally gathered candidates,
	// already serialized for relay transfer.
	OnCandidate(fn func(candidate string))

	// OnOpen registers the callback for channel readiness. Readiness is
	// channel-level: it fires when the application channel is usable, not
	// when negotiation completes.
	OnOpen(fn func())

	// OnMessage registers the callback for inbound channel data.
	OnMessage(fn func(data []byte))

	// OnStateChange registers the callback for connectivity changes.
	OnStateChange(fn func(state ConnState))

	// Send writes data to the channel. Fails if the channel is not open.
	Send(data []byte) error

	// Close releases the transport's resources. Idempotent.
	Close() error
}

// TransportFactory creates one Transport per peer. The initiator side is
// responsible for creating the application channel; the responder side
// adopts the channel announced by the remote.
type TransportFactory func(initiator bool) (Transport, error)

// RelayLink is the control socket to the signaling relay. Incoming is
// closed when the socket drops.
type RelayLink interface {
	Send(msg *signaling.Message) error
	Incoming() <-chan *signaling.Message
	Close() error
}
