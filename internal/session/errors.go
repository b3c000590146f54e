package session

import "errors"

var (
	// ErrUnknownPeer is returned when a direct message targets an
	// identifier with no known handle.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrChannelNotReady is returned when a send is attempted before the
	// peer channel has opened. Fatal to that send only; the handle keeps
	// negotiating.
	ErrChannelNotReady = errors.New("peer channel not ready")

	// ErrRelayClosed is returned when the control socket to the relay has
	// shut down.
	ErrRelayClosed = errors.New("relay connection closed")
)
