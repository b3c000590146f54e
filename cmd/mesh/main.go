// Mesh — CLI entry point.
//
// This tool joins a topic on a mesh relay, establishes direct WebRTC
// DataChannels to every other member, and runs a small chat loop on top:
// plain lines broadcast to the topic, /msg sends to a single peer.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-server, -topic, -name).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/1ureka/1ureka.net.mesh/internal/session"
	"github.com/1ureka/1ureka.net.mesh/internal/transport"
	"github.com/1ureka/1ureka.net.mesh/internal/util"
)

var version = "dev"

// presence is the demo presence payload shared with other members.
type presence struct {
	Name   string `msgpack:"name"`
	Status string `msgpack:"status"`
}

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	serverFlag := flag.String("server", "", "Relay URL to connect to (e.g. wss://relay.example.com)")
	topicFlag := flag.String("topic", "", "Topic to join")
	nameFlag := flag.String("name", "", "Display name shared as presence")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Mesh — v%s", version))
	pterm.Println()

	serverURL := ""
	if *serverFlag != "" {
		normalized, err := normalizeWSURL(*serverFlag)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		serverURL = normalized
	} else {
		serverURL = askURL()
	}

	topic := strings.TrimSpace(*topicFlag)
	if topic == "" {
		topic = askNonEmpty("Topic to join")
	}

	name := strings.TrimSpace(*nameFlag)
	if name == "" {
		name = askNonEmpty("Display name")
	}

	run(ctx, serverURL, topic, name)
	util.LogInfo("successfully left the mesh")
}

// run connects the session, wires the chat events, and blocks on the input
// loop until Ctrl+C or the relay drops before any peer was reached.
func run(ctx context.Context, serverURL, topic, name string) {
	names := newNameBook(name)

	events := session.Events{
		Connected: func(selfID string) {
			util.LogSuccess("joined topic %q as %s", topic, selfID)
		},
		PeerConnected: func(peerID string) {
			pterm.Info.Println(fmt.Sprintf("* %s joined", names.display(peerID)))
		},
		PeerDisconnected: func(peerID string) {
			pterm.Info.Println(fmt.Sprintf("* %s left", names.display(peerID)))
		},
		Broadcast: func(peerID string, body msgpack.RawMessage) {
			var text string
			if err := msgpack.Unmarshal(body, &text); err != nil {
				return
			}
			pterm.Println(fmt.Sprintf("<%s> %s", names.display(peerID), text))
		},
		DirectMessage: func(peerID string, body msgpack.RawMessage) {
			var text string
			if err := msgpack.Unmarshal(body, &text); err != nil {
				return
			}
			pterm.Println(fmt.Sprintf("<%s (direct)> %s", names.display(peerID), text))
		},
		PeerPresenceChanged: func(peerID string, raw msgpack.RawMessage) {
			var p presence
			if err := msgpack.Unmarshal(raw, &p); err != nil {
				return
			}
			names.set(peerID, p.Name)
			if p.Status != "" {
				pterm.Info.Println(fmt.Sprintf("* %s is now %q", names.display(peerID), p.Status))
			}
		},
		RelayClosed: func() {
			util.LogWarning("relay connection lost — existing peer channels stay up")
		},
	}

	s, err := session.Connect(ctx, transport.Factory(), events, serverURL, topic)
	if err != nil {
		util.LogError("failed to join mesh: %v", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := s.UpdatePresence(presence{Name: name}); err != nil {
		util.LogWarning("failed to publish presence: %v", err)
	}

	util.StartStatsReporter(ctx)

	inputLoop(ctx, s, names, name)
}

// inputLoop reads stdin until EOF or ctx cancellation. Plain lines are
// broadcast; lines starting with "/" are commands.
func inputLoop(ctx context.Context, s *session.Session, names *nameBook, name string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			handleLine(s, names, name, strings.TrimSpace(line))
		case <-ctx.Done():
			return
		}
	}
}

func handleLine(s *session.Session, names *nameBook, name, line string) {
	switch {
	case line == "":

	case line == "/peers":
		peers := s.Peers()
		if len(peers) == 0 {
			pterm.Println("(no peers)")
			return
		}
		for _, id := range peers {
			pterm.Println(fmt.Sprintf("  %s  (%s)", id, names.display(id)))
		}

	case strings.HasPrefix(line, "/msg "):
		rest := strings.TrimPrefix(line, "/msg ")
		target, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			util.LogWarning("usage: /msg <peer-id> <text>")
			return
		}
		if err := s.DirectMessage(target, strings.TrimSpace(text)); err != nil {
			util.LogWarning("direct message failed: %v", err)
		}

	case strings.HasPrefix(line, "/status "):
		status := strings.TrimSpace(strings.TrimPrefix(line, "/status "))
		if err := s.UpdatePresence(presence{Name: name, Status: status}); err != nil {
			util.LogWarning("failed to update presence: %v", err)
		}

	case strings.HasPrefix(line, "/"):
		util.LogWarning("unknown command %q (try /peers, /msg, /status)", line)

	default:
		if err := s.Broadcast(line); err != nil {
			util.LogWarning("broadcast failed: %v", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates and normalizes a raw WebSocket URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askURL prompts the user for a valid relay URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example.com)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askNonEmpty prompts until the user enters a non-blank value.
func askNonEmpty(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("value cannot be empty")
		pterm.Println()
	}
}
