// Package peer tracks nodes observed on the wire.
package peer

import (
	"sort"
	"sync"
	"time"
)

// Peer is a remote node keyed by its hardware address.
type Peer struct {
	Addr     string
	Name     string
	NodeID   string
	LastSeen time.Time
}

// Table is safe for concurrent use by the receive loop, the janitor and
// foreground callers.
type Table struct {
	peers map[string]*Peer
	ttl   time.Duration
	mu    sync.RWMutex
}

// NewTable creates a table whose entries expire after ttl without traffic.
// A zero ttl keeps entries forever.
func NewTable(ttl time.Duration) *Table {
	return &Table{
		peers: make(map[string]*Peer),
		ttl:   ttl,
	}
}

// Observe records that a frame from addr arrived at now, creating the entry
// on first sight.
func (t *Table) Observe(addr string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, exists := t.peers[addr]; exists {
		p.LastSeen = now
		return
	}
	t.peers[addr] = &Peer{Addr: addr, LastSeen: now}
}

// ObserveAnnounce stores the name and node id carried by an announcement.
func (t *Table) ObserveAnnounce(addr, name, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, exists := t.peers[addr]
	if !exists {
		p = &Peer{Addr: addr}
		t.peers[addr] = p
	}
	p.Name = name
	p.NodeID = nodeID
}

func (t *Table) Get(addr string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, exists := t.peers[addr]
	if !exists {
		return Peer{}, false
	}
	return *p, true
}

// List returns a snapshot ordered by address.
func (t *Table) List() []Peer {
	t.mu.RLock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Evict removes peers silent for longer than the ttl and returns their
// addresses.
func (t *Table) Evict(now time.Time) []string {
	if t.ttl <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []string
	for addr, p := range t.peers {
		if now.Sub(p.LastSeen) > t.ttl {
			delete(t.peers, addr)
			evicted = append(evicted, addr)
		}
	}
	sort.Strings(evicted)
	return evicted
}
