// Package directory maintains the room membership and identity lookup tables
// for the relay. It is pure bookkeeping: no negotiation logic, no transport.
package directory

import "sync"

// Member is an {identity, handle} pair as seen by other room occupants.
type Member struct {
	Identity string
	Handle   string
}

// Directory maps participants to connection handles. Three tables are kept
// in lockstep: identity to handle, handle to identity, and handle to room.
// All mutations for a single handle are applied under one lock so a reader
// never observes a partial update.
//
// A Directory instance is constructed per server process and injected where
// needed; there is no package-level state.
type Directory struct {
	mu               sync.RWMutex
	identityToHandle map[string]string
	handleToIdentity map[string]string
	handleToRoom     map[string]string
}

func New() *Directory {
	return &Directory{
		identityToHandle: make(map[string]string),
		handleToIdentity: make(map[string]string),
		handleToRoom:     make(map[string]string),
	}
}

// Register records the participant and returns the members that were in the
// room before this registration, so the joiner learns who to call.
//
// Re-registering a handle overwrites its previous entries. If the identity
// was registered under another handle, that stale handle's entries are
// removed too: the latest registration wins and the tables stay mutually
// consistent.
func (d *Directory) Register(identity, handle, room string) []Member {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing := d.occupantsLocked(room, handle)

	if prevIdentity, ok := d.handleToIdentity[handle]; ok && prevIdentity != identity {
		delete(d.identityToHandle, prevIdentity)
	}
	if prevHandle, ok := d.identityToHandle[identity]; ok && prevHandle != handle {
		delete(d.handleToIdentity, prevHandle)
		delete(d.handleToRoom, prevHandle)
	}

	d.identityToHandle[identity] = handle
	d.handleToIdentity[handle] = identity
	d.handleToRoom[handle] = room

	return existing
}

// ResolveIdentity returns the identity registered for a handle.
func (d *Directory) ResolveIdentity(handle string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.handleToIdentity[handle]
	return identity, ok
}

// ResolveHandle returns the handle registered for an identity.
func (d *Directory) ResolveHandle(identity string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handle, ok := d.identityToHandle[identity]
	return handle, ok
}

// RoomOf returns the room a handle belongs to.
func (d *Directory) RoomOf(handle string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.handleToRoom[handle]
	return room, ok
}

// Unregister removes all entries for a handle, returning the freed identity
// and room so the caller can notify peers. Unregistering an unknown handle
// is a no-op.
func (d *Directory) Unregister(handle string) (identity, room string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	identity, ok = d.handleToIdentity[handle]
	if !ok {
		return "", "", false
	}
	room = d.handleToRoom[handle]

	// Only drop the reverse entry if it still points at this handle; the
	// identity may have re-registered from a newer connection.
	if d.identityToHandle[identity] == handle {
		delete(d.identityToHandle, identity)
	}
	delete(d.handleToIdentity, handle)
	delete(d.handleToRoom, handle)

	return identity, room, true
}

// Occupants lists the current members of a room.
func (d *Directory) Occupants(room string) []Member {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.occupantsLocked(room, "")
}

// Len returns the number of registered handles.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handleToIdentity)
}

func (d *Directory) occupantsLocked(room, excludeHandle string) []Member {
	var members []Member
	for handle, r := range d.handleToRoom {
		if r != room || handle == excludeHandle {
			continue
		}
		members = append(members, Member{
			Identity: d.handleToIdentity[handle],
			Handle:   handle,
		})
	}
	return members
}
