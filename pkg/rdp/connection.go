// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"errors"
	"fmt"
	"net"
)

// ServerID is the receiver ID a server uses for itself.
const ServerID uint32 = 0

// ConnState describes the lifecycle of a Connection. A Connection can only
// proceed to a later state.
type ConnState int

const (
	// Handshaking is a client's state while waiting for ACCEPT.
	Handshaking ConnState = iota

	// Established allows DATA to be exchanged.
	Established

	// Draining is entered after the last chunk was confirmed and EOF is sent.
	Draining

	// Closed is the final state.
	Closed
)

func (cs ConnState) String() string {
	switch cs {
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "INVALID"
	}
}

// Next enters the following ConnState or errors if there is no next state.
func (cs *ConnState) Next() (err error) {
	if *cs == Closed {
		err = errors.New("There is no state after closed")
	} else {
		*cs += 1
	}

	return
}

// Connection is one client/server association.
type Connection struct {
	// ClientID is the random ID chosen by the client.
	ClientID uint32

	// ServerID is the server's ID, always ServerID.
	ServerID uint32

	// Addr is the peer's address.
	Addr net.Addr

	// Cursor is the index of the next chunk to be sent. A Cursor equal to the
	// amount of chunks makes the server send EOF.
	Cursor int

	State ConnState

	// Retransmissions counts resent packets for this Connection.
	Retransmissions int

	seq *SequenceCounter
}

// newConnection for an admitted client. The Connection uses the given
// SequenceCounter for outgoing packets.
func newConnection(clientID uint32, addr net.Addr, seq *SequenceCounter) *Connection {
	return &Connection{
		ClientID: clientID,
		ServerID: ServerID,
		Addr:     addr,
		State:    Established,
		seq:      seq,
	}
}

// Sequence returns the SequenceCounter used for this Connection's packets.
func (c *Connection) Sequence() *SequenceCounter {
	return c.seq
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection(%d->%d, %v, %v, cursor=%d)",
		c.ClientID, c.ServerID, c.Addr, c.State, c.Cursor)
}
