// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
)

// Connect to a server with a random connection ID, see ConnectWithID.
func (ep *Endpoint) Connect(addr net.Addr) (*Connection, error) {
	return ep.ConnectWithID(addr, NewConnectionID())
}

// ConnectWithID sends a CONNECT for this client ID and waits for the server's
// answer. A refusing server results in a RejectedError, a missing answer in
// ErrTimeout. A client may try again after a timeout.
func (ep *Endpoint) ConnectWithID(addr net.Addr, clientID uint32) (*Connection, error) {
	p := NewPacket(FlagConnect, 0, 0, clientID, ServerID, 0, nil)
	if _, err := ep.send(p, addr); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"endpoint": ep,
		"server":   addr,
		"client":   clientID,
	}).Debug("Sent CONNECT, awaiting confirmation")

	return ep.awaitConfirmation(addr, clientID)
}

// sameAddr compares two socket addresses.
func sameAddr(a, b net.Addr) bool {
	return a != nil && b != nil && a.Network() == b.Network() && a.String() == b.String()
}

// awaitConfirmation waits for the server's ACCEPT or REJECT.
//
// A server starts streaming right after its ACCEPT. Thus, DATA or an EOF from
// the server proves the admission, even if the ACCEPT got lost. The
// Connection is adopted and the packet is kept for the first receive.
func (ep *Endpoint) awaitConfirmation(server net.Addr, clientID uint32) (*Connection, error) {
	const op = "connect"

	p, addr, err := ep.receive(op, ep.conf.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	kind := p.Flag.Kind(PhaseHandshake)
	switch {
	case kind == KindReject && RejectReason(p.Metadata).Valid():
		return nil, &RejectedError{ClientID: clientID, Reason: RejectReason(p.Metadata)}

	case (kind == KindData || kind == KindReject) && sameAddr(addr, server):
		if err := ep.unread(p, addr); err != nil {
			return nil, err
		}

		log.WithFields(log.Fields{
			"endpoint": ep,
			"server":   addr,
			"client":   clientID,
			"packet":   p,
		}).Debug("Server streams without ACCEPT")

		return ep.Adopt(addr, clientID), nil

	case kind == KindAccept:
		c := &Connection{
			ClientID: p.SenderID,
			ServerID: p.RecvID,
			Addr:     addr,
			State:    Handshaking,
			seq:      ep.seq,
		}
		_ = c.State.Next()

		log.WithFields(log.Fields{
			"endpoint":   ep,
			"connection": c,
		}).Info("Connection accepted")

		return c, nil

	default:
		return nil, newProtocolError(op, p.Flag, FlagAccept, FlagTerminate)
	}
}

// Adopt creates the client side of a Connection which the server admitted
// although its ACCEPT never arrived. Either the server already streams to
// this client or a repeated CONNECT was refused with RejectDuplicateID.
func (ep *Endpoint) Adopt(addr net.Addr, clientID uint32) *Connection {
	c := &Connection{
		ClientID: clientID,
		ServerID: ServerID,
		Addr:     addr,
		State:    Handshaking,
		seq:      ep.seq,
	}
	_ = c.State.Next()

	log.WithFields(log.Fields{
		"endpoint":   ep,
		"connection": c,
	}).Info("Adopted connection without ACCEPT")

	return c
}

// Listen waits up to Config.ListenTimeout for an incoming datagram, e.g., a
// CONNECT. The datagram is left for Accept.
func (ep *Endpoint) Listen() (bool, error) {
	return ep.Poll(ep.conf.ListenTimeout)
}

// Accept handles the datagram announced by Listen as a connection request.
//
// Only CONNECT packets are considered. Other packets, e.g., late ACKs of an
// active Connection, are ignored, resulting in a nil Connection without an
// error. A client ID already in use is refused with RejectDuplicateID, a full
// Registry with RejectCapacity. Both result in a RejectedError, which is not
// fatal for the server. Otherwise the CONNECT is answered with ACCEPT and the
// new Connection is added to the Registry.
func (ep *Endpoint) Accept(reg *Registry) (*Connection, error) {
	const op = "accept"

	p, addr, err := ep.receive(op, ep.conf.ListenTimeout)
	if errors.Is(err, ErrTimeout) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"endpoint": ep,
		"peer":     addr,
		"client":   p.SenderID,
		"flag":     p.Flag,
	})

	if p.Flag != FlagConnect {
		logger.Debug("Ignoring non-CONNECT packet while listening")
		return nil, nil
	}

	var reason RejectReason
	if !reg.IsUnique(p.SenderID) {
		reason = RejectDuplicateID
	} else if reg.Full() {
		reason = RejectCapacity
	}

	if reason != 0 {
		reject := NewPacket(FlagTerminate, 0, 0, ServerID, p.SenderID, uint32(reason), nil)
		if _, err := ep.send(reject, addr); err != nil {
			return nil, err
		}

		logger.WithField("reason", reason).Info("Rejected connection request")
		return nil, &RejectedError{ClientID: p.SenderID, Reason: reason}
	}

	var seq = ep.seq
	if ep.conf.PerConnectionSeq {
		seq = new(SequenceCounter)
	}
	c := newConnection(p.SenderID, addr, seq)

	if _, ok := reg.Add(c); !ok {
		return nil, fmt.Errorf("%s: registry refused connection %d", op, c.ClientID)
	}

	accept := NewPacket(FlagAccept, 0, 0, c.ClientID, ServerID, 0, nil)
	if _, err := ep.send(accept, addr); err != nil {
		reg.Remove(c.ClientID)
		return nil, err
	}

	logger.WithField("connection", c).Info("Accepted connection")
	return c, nil
}
