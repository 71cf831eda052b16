package session

import (
	"slices"
	"strings"
	"sync"

	"coinflip/internal/network"
	"coinflip/internal/services/gameroom"
)

type binding struct {
	conn    network.Conn
	address gameroom.PlayerRef
	// address each match was attached with
	matches map[string]gameroom.PlayerRef
}

// Attachment is one match a connection joined and the identity it used.
type Attachment struct {
	MatchID string
	Address gameroom.PlayerRef
}

// Registry maps connections to player addresses and to the matches they
// attached to. It is shared by every room and the transport, so all access
// goes through one mutex.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*binding
	byAddr map[gameroom.PlayerRef]network.Conn
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*binding),
		byAddr: make(map[gameroom.PlayerRef]network.Conn),
	}
}

// Identify binds conn to address. An address already bound to another live
// connection moves to conn (last writer wins); the replaced connection is
// returned so the caller can tell it apart from a fresh login.
func (r *Registry) Identify(conn network.Conn, address gameroom.PlayerRef) (replaced network.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bindingLocked(conn)
	if b.address != "" && b.address != address {
		if cur, ok := r.byAddr[b.address]; ok && cur.ID() == conn.ID() {
			delete(r.byAddr, b.address)
		}
	}
	b.address = address

	if prev, ok := r.byAddr[address]; ok && prev.ID() != conn.ID() {
		replaced = prev
	}
	r.byAddr[address] = conn
	return replaced
}

func (r *Registry) bindingLocked(conn network.Conn) *binding {
	b, ok := r.byConn[conn.ID()]
	if !ok {
		b = &binding{conn: conn, matches: make(map[string]gameroom.PlayerRef)}
		r.byConn[conn.ID()] = b
	}
	return b
}

// Resolve returns the live connection of address, if any.
func (r *Registry) Resolve(address gameroom.PlayerRef) (network.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byAddr[address]
	return c, ok
}

// Address returns the identity conn was bound to.
func (r *Registry) Address(conn network.Conn) (gameroom.PlayerRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConn[conn.ID()]
	if !ok || b.address == "" {
		return "", false
	}
	return b.address, true
}

// Bind records that conn is attached to matchID under its current address.
func (r *Registry) Bind(conn network.Conn, matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bindingLocked(conn)
	b.matches[matchID] = b.address
}

// Matches lists the matches conn is attached to.
func (r *Registry) Matches(conn network.Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConn[conn.ID()]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(b.matches))
	for id := range b.matches {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Unbind(conn network.Conn, matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byConn[conn.ID()]; ok {
		delete(b.matches, matchID)
	}
}

// Forget drops every binding of a closed connection and returns its last
// address and each match with the address it attached under.
func (r *Registry) Forget(conn network.Conn) (gameroom.PlayerRef, []Attachment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byConn[conn.ID()]
	if !ok {
		return "", nil
	}
	delete(r.byConn, conn.ID())
	if cur, ok := r.byAddr[b.address]; ok && cur.ID() == conn.ID() {
		delete(r.byAddr, b.address)
	}

	out := make([]Attachment, 0, len(b.matches))
	for id, addr := range b.matches {
		out = append(out, Attachment{MatchID: id, Address: addr})
	}
	slices.SortFunc(out, func(a, b Attachment) int { return strings.Compare(a.MatchID, b.MatchID) })
	return b.address, out
}

// Len returns the number of identified addresses.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddr)
}
