package main

import "sync"

// nameBook maps peer identifiers to display names learned from presence.
// Peers without a known name render as a shortened identifier.
type nameBook struct {
	mu    sync.RWMutex
	self  string
	names map[string]string
}

func newNameBook(self string) *nameBook {
	return &nameBook{
		self:  self,
		names: make(map[string]string),
	}
}

func (b *nameBook) set(peerID, name string) {
	if name == "" {
		return
	}
	b.mu.Lock()
	b.names[peerID] = name
	b.mu.Unlock()
}

func (b *nameBook) display(peerID string) string {
	b.mu.RLock()
	name, ok := b.names[peerID]
	b.mu.RUnlock()
	if ok {
		return name
	}
	if len(peerID) > 8 {
		return peerID[:8]
	}
	return peerID
}
