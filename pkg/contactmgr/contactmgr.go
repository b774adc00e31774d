// Package contactmgr is the minimal Contact Manager collaborator SCL
// needs (spec.md §1, §4.F, Design Note on cyclic references): it owns
// Link and Contact values behind small id handles so pkg/scl.Connection
// never holds a pointer into this package, only an id it resolves on
// use — the arena-plus-index scheme the Design Notes call for, with
// github.com/rs/xid minting the handles in place of the source's raw
// pointer/handle-table scheme.
package contactmgr

import (
	"sync"

	"github.com/rs/xid"

	"github.com/dtnproto/scl/pkg/bpabstract"
	"github.com/dtnproto/scl/pkg/clparams"
)

// LinkID and ContactID are opaque, xid-backed handles.
type LinkID string
type ContactID string

// Link is a persistent configuration describing how to reach a peer.
type Link struct {
	ID       LinkID
	Peer     bpabstract.EndpointID
	OnDemand bool
	Params   clparams.LinkParams
}

// Contact is a time-bounded communication opportunity over a Link.
type Contact struct {
	ID   ContactID
	Link LinkID
	Up   bool
}

// Manager owns Links and Contacts by id. It is the only shared,
// cross-connection resource besides the Bundle Daemon event queue
// (spec.md §5).
type Manager struct {
	mu       sync.Mutex
	links    map[LinkID]Link
	contacts map[ContactID]Contact
	// byPeerLink indexes the existing contact for a given link, so
	// repeated EnsureContact calls on the same link reuse a Contact
	// rather than minting a fresh one every time.
	byPeerLink map[LinkID]ContactID
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		links:      make(map[LinkID]Link),
		contacts:   make(map[ContactID]Contact),
		byPeerLink: make(map[LinkID]ContactID),
	}
}

// NewLink registers a Link and returns its id.
func (m *Manager) NewLink(peer bpabstract.EndpointID, onDemand bool, params clparams.LinkParams) LinkID {
	id := LinkID(xid.New().String())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[id] = Link{ID: id, Peer: peer, OnDemand: onDemand, Params: params}
	return id
}

// Link resolves a LinkID to its Link value.
func (m *Manager) Link(id LinkID) (Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	return l, ok
}

// EnsureContact returns the existing Contact for link if one is already
// tracked, or mints a fresh one. This is the lookup the handshake
// (spec.md §4.F step 4) performs once the peer's announce bundle source
// EID has been parsed.
func (m *Manager) EnsureContact(link LinkID) ContactID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byPeerLink[link]; ok {
		return id
	}
	id := ContactID(xid.New().String())
	m.contacts[id] = Contact{ID: id, Link: link}
	m.byPeerLink[link] = id
	return id
}

// Contact resolves a ContactID to its Contact value.
func (m *Manager) Contact(id ContactID) (Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	return c, ok
}

// SetContactUp flips the Up flag, called on ContactUpEvent/ContactDownEvent.
func (m *Manager) SetContactUp(id ContactID, up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return
	}
	c.Up = up
	m.contacts[id] = c
}

// Contacts returns a snapshot of all tracked contacts, for status/metrics
// surfaces (component K).
func (m *Manager) Contacts() []Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		out = append(out, c)
	}
	return out
}

// Forget removes a contact once its connection has torn down, so the
// arena does not grow unbounded over the life of a long-running daemon.
func (m *Manager) Forget(id ContactID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return
	}
	delete(m.contacts, id)
	delete(m.byPeerLink, c.Link)
}
