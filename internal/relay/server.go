package relay

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/1ureka.net.mesh/internal/signaling"
	"github.com/1ureka/1ureka.net.mesh/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the relay over HTTP: a WebSocket endpoint for the control
// socket and a plain health check.
type Server struct {
	reg *Registry
}

// NewServer creates a relay server with an empty registry.
func NewServer() *Server {
	return &Server{reg: NewRegistry()}
}

// Registry returns the server's room registry.
func (s *Server) Registry() *Registry { return s.reg }

// Handler returns the HTTP handler serving /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", handleHealth)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("failed to upgrade connection: %v", err)
		return
	}

	// The connection identifier assigned here is the canonical peer
	// identifier used by every client in the mesh.
	c := newClient(uuid.NewString(), s.reg, conn)
	util.LogInfo("connection accepted: %s (%s)", c.id, conn.RemoteAddr())

	// Queued before the pumps start, so it is the first message delivered.
	c.Deliver(&signaling.Message{Type: signaling.MsgTypeWelcome, ID: c.id})

	go c.writePump()
	go c.readPump()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("relay is healthy"))
}
