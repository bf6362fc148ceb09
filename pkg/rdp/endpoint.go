// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// recvBufferSize exceeds the largest valid packet to detect oversized ones.
const recvBufferSize = 2048

// datagram is a received but not yet parsed datagram.
type datagram struct {
	data []byte
	addr net.Addr
}

// Endpoint is one side of RDP, bound to a single UDP socket. Both the server
// and the client operate on an Endpoint.
//
// An Endpoint is not safe for concurrent use, except for Close.
type Endpoint struct {
	conn net.PacketConn
	conf Config

	// seq is shared by all Connections unless Config.PerConnectionSeq is set.
	seq *SequenceCounter

	// pending is a datagram read by the readiness fallback, see Poll.
	pending *datagram

	buf []byte
}

// NewEndpoint wraps a PacketConn, e.g., a *net.UDPConn or a lossy.Conn.
func NewEndpoint(conn net.PacketConn, conf Config) (*Endpoint, error) {
	if err := conf.checkValid(); err != nil {
		return nil, err
	}

	return &Endpoint{
		conn: conn,
		conf: conf,
		seq:  new(SequenceCounter),
		buf:  make([]byte, recvBufferSize),
	}, nil
}

// ListenUDP binds a UDP socket on the given address and creates an Endpoint.
func ListenUDP(address string, conf Config) (*Endpoint, error) {
	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, &FatalError{Op: "bind", Err: err}
	}

	ep, err := NewEndpoint(conn, conf)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ep, nil
}

// Close the underlying socket.
func (ep *Endpoint) Close() error {
	return ep.conn.Close()
}

// LocalAddr of the underlying socket.
func (ep *Endpoint) LocalAddr() net.Addr {
	return ep.conn.LocalAddr()
}

// Config of this Endpoint.
func (ep *Endpoint) Config() Config {
	return ep.conf
}

// Sequence is the Endpoint's shared SequenceCounter.
func (ep *Endpoint) Sequence() *SequenceCounter {
	return ep.seq
}

func (ep *Endpoint) String() string {
	return fmt.Sprintf("rdp://%v", ep.conn.LocalAddr())
}

// send a Packet to an address. The number of written bytes is returned.
func (ep *Endpoint) send(p Packet, addr net.Addr) (int, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}

	n, err := ep.conn.WriteTo(data, addr)
	if err != nil {
		return n, &FatalError{Op: "send", Err: err}
	}

	log.WithFields(log.Fields{
		"endpoint": ep,
		"peer":     addr,
		"packet":   p,
	}).Debug("Sent packet")

	return n, nil
}

// isTimeout checks if a socket error was caused by a read deadline.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// read the next datagram. A non-positive timeout blocks until a datagram
// arrives. ErrTimeout is returned if the timeout passed.
func (ep *Endpoint) read(timeout time.Duration) (*datagram, error) {
	if ep.pending != nil {
		dg := ep.pending
		ep.pending = nil
		return dg, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := ep.conn.SetReadDeadline(deadline); err != nil {
		return nil, &FatalError{Op: "receive", Err: err}
	}

	n, addr, err := ep.conn.ReadFrom(ep.buf)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, &FatalError{Op: "receive", Err: err}
	}

	data := make([]byte, n)
	copy(data, ep.buf[:n])
	return &datagram{data: data, addr: addr}, nil
}

// unread keeps a received Packet back for the next read.
func (ep *Endpoint) unread(p Packet, addr net.Addr) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	ep.pending = &datagram{data: data, addr: addr}
	return nil
}

// receive the next Packet, see read. A datagram which cannot be parsed is
// reported as a ProtocolError.
func (ep *Endpoint) receive(op string, timeout time.Duration) (p Packet, addr net.Addr, err error) {
	dg, err := ep.read(timeout)
	if err != nil {
		return
	}

	addr = dg.addr
	if parseErr := p.UnmarshalBinary(dg.data); parseErr != nil {
		err = &ProtocolError{Op: op, Flag: p.Flag, Msg: parseErr.Error()}
		return
	}

	log.WithFields(log.Fields{
		"endpoint": ep,
		"peer":     addr,
		"packet":   p,
	}).Debug("Received packet")

	if !p.Flag.Valid() {
		err = newProtocolError(op, p.Flag)
	}
	return
}

// Poll waits up to timeout until a datagram can be read without blocking.
// The datagram itself stays available for the next receive operation. A
// non-positive timeout blocks until a datagram arrives.
func (ep *Endpoint) Poll(timeout time.Duration) (bool, error) {
	if ep.pending != nil {
		return true, nil
	}

	if ready, supported, err := pollReadable(ep.conn, timeout); supported {
		if err != nil {
			return false, &FatalError{Op: "poll", Err: err}
		}
		return ready, nil
	}

	// Without a readiness primitive, the datagram is read and kept back.
	dg, err := ep.read(timeout)
	if errors.Is(err, ErrTimeout) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	ep.pending = dg
	return true, nil
}
