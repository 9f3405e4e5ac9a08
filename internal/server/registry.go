package server

import (
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Conn is a live outbound channel to one client device.
type Conn interface {
	Send(frame []byte) error
	Close() error
}

type ConnectionID string

type EventKind int

const (
	ConnectionAdded EventKind = iota
	ConnectionRemoved
)

// RegistryEvent describes one registry mutation and the counts right after it.
type RegistryEvent struct {
	Kind                EventKind
	Identity            string
	Id                  ConnectionID
	IdentityConnections int
	TotalConnections    int
}

// Observer is notified after every add and remove, outside the registry lock.
type Observer func(RegistryEvent)

type registryEntry struct {
	identity string
	conn     Conn
}

// Registry maps client identities to their live connections.
type Registry struct {
	mu         sync.RWMutex
	entries    map[ConnectionID]registryEntry
	byIdentity map[string][]ConnectionID

	observersLock sync.RWMutex
	observers     []Observer
}

func NewRegistry() *Registry {
	return &Registry{
		entries:    make(map[ConnectionID]registryEntry),
		byIdentity: make(map[string][]ConnectionID),
	}
}

// Observe registers fn to be called on every registry mutation.
func (r *Registry) Observe(fn Observer) {
	r.observersLock.Lock()
	defer r.observersLock.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Registry) notify(ev RegistryEvent) {
	r.observersLock.RLock()
	observers := slices.Clone(r.observers)
	r.observersLock.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// AddConnection stores conn under identity and returns its fresh id.
func (r *Registry) AddConnection(identity string, conn Conn) ConnectionID {
	id := ConnectionID(uuid.NewString())

	r.mu.Lock()
	r.entries[id] = registryEntry{identity: identity, conn: conn}
	r.byIdentity[identity] = append(r.byIdentity[identity], id)
	ev := RegistryEvent{
		Kind:                ConnectionAdded,
		Identity:            identity,
		Id:                  id,
		IdentityConnections: len(r.byIdentity[identity]),
		TotalConnections:    len(r.entries),
	}
	r.mu.Unlock()

	r.notify(ev)
	return id
}

// RemoveConnection drops the entry for id. Unknown ids are ignored.
func (r *Registry) RemoveConnection(id ConnectionID) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	delete(r.entries, id)
	ids := slices.DeleteFunc(r.byIdentity[entry.identity], func(other ConnectionID) bool {
		return other == id
	})
	if len(ids) == 0 {
		delete(r.byIdentity, entry.identity)
	} else {
		r.byIdentity[entry.identity] = ids
	}
	ev := RegistryEvent{
		Kind:                ConnectionRemoved,
		Identity:            entry.identity,
		Id:                  id,
		IdentityConnections: len(ids),
		TotalConnections:    len(r.entries),
	}
	r.mu.Unlock()

	r.notify(ev)
}

// ConnectionsFor returns identity's connections in registration order.
func (r *Registry) ConnectionsFor(identity string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byIdentity[identity]
	conns := make([]Conn, 0, len(ids))
	for _, id := range ids {
		conns = append(conns, r.entries[id].conn)
	}
	return conns
}

// AllConnections returns a snapshot of every registered connection.
func (r *Registry) AllConnections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.entries))
	for _, ids := range r.byIdentity {
		for _, id := range ids {
			conns = append(conns, r.entries[id].conn)
		}
	}
	return conns
}

// Identities returns the sorted identities holding at least one connection.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identities := make([]string, 0, len(r.byIdentity))
	for identity := range r.byIdentity {
		identities = append(identities, identity)
	}
	sort.Strings(identities)
	return identities
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}
