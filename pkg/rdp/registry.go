// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Registry is a fixed capacity table of active Connections. Each Connection
// lives in a slot, whose index serves as a stable handle.
//
// Next to the occupied slots, the Registry counts each admitted client. This
// counter is not decreased when a Connection is removed, so a server admits at
// most its capacity of clients over its whole lifetime.
type Registry struct {
	slots    []*Connection
	admitted int
	mutex    sync.Mutex
}

// NewRegistry creates an empty Registry for capacity Connections.
func NewRegistry(capacity int) *Registry {
	if capacity < 0 {
		capacity = 0
	}

	return &Registry{
		slots: make([]*Connection, capacity),
	}
}

// Capacity is the number of slots.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Admitted is the number of clients ever admitted.
func (r *Registry) Admitted() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.admitted
}

// Full checks if the admission counter reached the capacity.
func (r *Registry) Full() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.admitted >= len(r.slots)
}

// IsUnique checks that no active Connection has this client ID.
func (r *Registry) IsUnique(clientID uint32) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.find(clientID) < 0
}

// find a client ID's slot or -1. The mutex must be held.
func (r *Registry) find(clientID uint32) int {
	for i, c := range r.slots {
		if c != nil && c.ClientID == clientID {
			return i
		}
	}
	return -1
}

// Add a Connection into the first free slot and count its admission. Nothing
// happens if no slot is free or the client ID is already present.
func (r *Registry) Add(c *Connection) (handle int, ok bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.find(c.ClientID) >= 0 {
		log.WithField("connection", c).Warn("Registry refuses duplicate connection ID")
		return -1, false
	}

	for i := range r.slots {
		if r.slots[i] == nil {
			r.slots[i] = c
			r.admitted++
			return i, true
		}
	}

	log.WithField("connection", c).Warn("Registry has no free slot")
	return -1, false
}

// Remove the Connection with this client ID.
func (r *Registry) Remove(clientID uint32) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	i := r.find(clientID)
	if i < 0 {
		log.WithField("client", clientID).Info("Registry cannot remove unknown connection ID")
		return false
	}

	r.slots[i] = nil
	return true
}

// Get the Connection of a handle or nil for an empty slot.
func (r *Registry) Get(handle int) *Connection {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if handle < 0 || handle >= len(r.slots) {
		return nil
	}
	return r.slots[handle]
}

// Lookup a Connection by its client ID.
func (r *Registry) Lookup(clientID uint32) (c *Connection, ok bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if i := r.find(clientID); i >= 0 {
		return r.slots[i], true
	}
	return nil, false
}

// Connections returns all active Connections in slot order.
func (r *Registry) Connections() (conns []*Connection) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, c := range r.slots {
		if c != nil {
			conns = append(conns, c)
		}
	}
	return
}

// Len is the number of occupied slots.
func (r *Registry) Len() (n int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, c := range r.slots {
		if c != nil {
			n++
		}
	}
	return
}

// Clear frees every slot, e.g., before a shutdown after a fatal error.
func (r *Registry) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, c := range r.slots {
		if c != nil {
			c.State = Closed
			r.slots[i] = nil
		}
	}
}
