// Package transport implements the peer transport on WebRTC DataChannels.
package transport

import (
	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering. No TURN — the mesh is designed
// for direct P2P connectivity with zero infrastructure cost beyond the relay.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with Google STUN servers.
func newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// createDataChannel creates the single ordered DataChannel carrying mesh
// envelopes. Ordered is the pion default; small control-plane messages do
// not suffer head-of-line blocking at mesh scale.
func createDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	return pc.CreateDataChannel("mesh", nil)
}
