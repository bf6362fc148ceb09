// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package lossy simulates an unreliable network by discarding outgoing
// datagrams of a net.PacketConn.
package lossy

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Observer is notified about each outgoing datagram and whether it was dropped.
type Observer func(data []byte, addr net.Addr, dropped bool)

// Conn wraps a net.PacketConn and drops each outgoing datagram with a given
// probability. A dropped datagram is reported as successfully sent.
type Conn struct {
	net.PacketConn

	probability float64
	rng         *rand.Rand
	observer    Observer

	sent    uint64
	dropped uint64

	mutex sync.Mutex
}

func checkProbability(p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("loss probability %v is not within [0, 1]", p)
	}
	return nil
}

// NewConn wraps a PacketConn. A nil rand.Source is seeded by the current time.
func NewConn(conn net.PacketConn, probability float64, src rand.Source) (*Conn, error) {
	if err := checkProbability(probability); err != nil {
		return nil, err
	}

	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}

	return &Conn{
		PacketConn:  conn,
		probability: probability,
		rng:         rand.New(src),
	}, nil
}

// ListenUDP binds a UDP socket and wraps it.
func ListenUDP(address string, probability float64) (*Conn, error) {
	if err := checkProbability(probability); err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, err
	}

	return NewConn(conn, probability, nil)
}

// LossProbability currently in use.
func (c *Conn) LossProbability() float64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.probability
}

// SetLossProbability changes the loss probability, which must be in [0, 1].
func (c *Conn) SetLossProbability(p float64) error {
	if err := checkProbability(p); err != nil {
		return err
	}

	c.mutex.Lock()
	c.probability = p
	c.mutex.Unlock()

	return nil
}

// SetObserver registers an Observer, replacing the previous one.
func (c *Conn) SetObserver(o Observer) {
	c.mutex.Lock()
	c.observer = o
	c.mutex.Unlock()
}

// Stats returns the number of datagrams passed on and dropped.
func (c *Conn) Stats() (sent, dropped uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.sent, c.dropped
}

// WriteTo sends the datagram or silently discards it.
func (c *Conn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mutex.Lock()
	drop := c.probability > 0 && c.rng.Float64() < c.probability
	if drop {
		c.dropped++
	} else {
		c.sent++
	}
	observer := c.observer
	c.mutex.Unlock()

	if observer != nil {
		observer(b, addr, drop)
	}

	if drop {
		log.WithFields(log.Fields{
			"peer":   addr,
			"length": len(b),
		}).Debug("Dropping outgoing datagram")

		return len(b), nil
	}

	return c.PacketConn.WriteTo(b, addr)
}

// SyscallConn exposes the wrapped connection's file descriptor, if available.
func (c *Conn) SyscallConn() (syscall.RawConn, error) {
	if sc, ok := c.PacketConn.(syscall.Conn); ok {
		return sc.SyscallConn()
	}
	return nil, fmt.Errorf("%T does not provide a raw connection", c.PacketConn)
}

func (c *Conn) String() string {
	return fmt.Sprintf("lossy(%v, p=%v)", c.PacketConn.LocalAddr(), c.LossProbability())
}
