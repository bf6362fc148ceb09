// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Source provides a stream as a sequence of chunks, each at most MaxPayload
// bytes long.
type Source interface {
	// Chunks is the total number of chunks.
	Chunks() int

	// Chunk returns the chunk of the given index.
	Chunk(index int) ([]byte, error)
}

// ConnectionInfo is a read-only view of a Connection.
type ConnectionInfo struct {
	ClientID        uint32 `json:"client_id"`
	ServerID        uint32 `json:"server_id"`
	Peer            string `json:"peer"`
	Cursor          int    `json:"cursor"`
	State           string `json:"state"`
	Retransmissions int    `json:"retransmissions"`
}

// Snapshot describes a Multiplexer's progress.
type Snapshot struct {
	Capacity    int              `json:"capacity"`
	Admitted    int              `json:"admitted"`
	Completed   int              `json:"completed"`
	Failed      int              `json:"failed"`
	Chunks      int              `json:"chunks"`
	Connections []ConnectionInfo `json:"connections"`
}

// Multiplexer serves a Source to multiple clients over one Endpoint. Each
// iteration accepts at most one new client and sends one chunk to every
// active Connection. After a Connection's last chunk, an EOF is sent and the
// Connection is closed.
//
// The Multiplexer finishes after as many Connections were closed as the
// Registry has capacity.
type Multiplexer struct {
	ep  *Endpoint
	reg *Registry
	src Source

	expected  int
	completed int
	failed    int

	// OnAccept is called for each new Connection.
	OnAccept func(c *Connection)

	// OnReject is called for each refused connection request.
	OnReject func(re *RejectedError)

	// OnClose is called after a Connection was removed. A non-nil error
	// indicates that the peer stopped answering.
	OnClose func(c *Connection, err error)

	snapshot      Snapshot
	snapshotMutex sync.Mutex
}

// NewMultiplexer for an Endpoint, serving src to reg.Capacity() clients.
func NewMultiplexer(ep *Endpoint, reg *Registry, src Source) *Multiplexer {
	m := &Multiplexer{
		ep:       ep,
		reg:      reg,
		src:      src,
		expected: reg.Capacity(),
	}
	m.publish()

	return m
}

// Done reports if all expected Connections were closed.
func (m *Multiplexer) Done() bool {
	return m.completed >= m.expected
}

// Step performs a single iteration: listen for and accept one connection
// request, then advance each active Connection by one chunk.
func (m *Multiplexer) Step() error {
	defer m.publish()

	if err := m.admit(); err != nil {
		return err
	}

	for handle := 0; handle < m.reg.Capacity(); handle++ {
		c := m.reg.Get(handle)
		if c == nil {
			continue
		}

		if err := m.advance(c); err != nil {
			return err
		}
	}

	return nil
}

// Run steps until Done or a failure. The context is checked between two
// iterations. On a fatal error, all Connections are discarded.
func (m *Multiplexer) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"endpoint": m.ep,
		"clients":  m.expected,
		"chunks":   m.src.Chunks(),
	}).Info("Multiplexer started")

	for !m.Done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.Step(); err != nil {
			if IsFatal(err) {
				log.WithError(err).WithField("endpoint", m.ep).Error("Multiplexer failed, clearing registry")
				m.reg.Clear()
				m.publish()
			}
			return err
		}
	}

	log.WithFields(log.Fields{
		"endpoint":  m.ep,
		"completed": m.completed,
		"failed":    m.failed,
	}).Info("Multiplexer finished")
	return nil
}

func (m *Multiplexer) admit() error {
	if ready, err := m.ep.Listen(); err != nil {
		return err
	} else if !ready {
		return nil
	}

	c, err := m.ep.Accept(m.reg)

	var re *RejectedError
	var pe *ProtocolError
	switch {
	case errors.As(err, &re):
		if m.OnReject != nil {
			m.OnReject(re)
		}

	case errors.As(err, &pe):
		log.WithError(err).WithField("endpoint", m.ep).Warn("Dropping invalid packet")

	case err != nil:
		return err

	case c != nil && m.OnAccept != nil:
		m.OnAccept(c)
	}

	return nil
}

func (m *Multiplexer) advance(c *Connection) error {
	if c.Cursor < m.src.Chunks() {
		chunk, err := m.src.Chunk(c.Cursor)
		if err != nil {
			return &FatalError{Op: "read chunk", Err: err}
		}

		if err := m.ep.Write(c, chunk); errors.Is(err, ErrRetriesExhausted) {
			m.close(c, err)
			return nil
		} else if err != nil {
			return err
		}

		c.Cursor++
		return nil
	}

	if c.State == Established {
		_ = c.State.Next()
	}

	if err := m.ep.WriteEndOfStream(c); errors.Is(err, ErrRetriesExhausted) {
		m.close(c, err)
		return nil
	} else if err != nil {
		return err
	}

	c.Cursor++
	m.close(c, nil)
	return nil
}

func (m *Multiplexer) close(c *Connection, err error) {
	m.reg.Remove(c.ClientID)
	c.State = Closed

	m.completed++
	if err != nil {
		m.failed++
	}

	logger := log.WithFields(log.Fields{
		"endpoint":        m.ep,
		"connection":      c,
		"retransmissions": c.Retransmissions,
	})
	if err != nil {
		logger.WithError(err).Warn("Connection closed without confirmation")
	} else {
		logger.Info("Connection closed")
	}

	if m.OnClose != nil {
		m.OnClose(c, err)
	}
}

// publish updates the Snapshot.
func (m *Multiplexer) publish() {
	s := Snapshot{
		Capacity:  m.reg.Capacity(),
		Admitted:  m.reg.Admitted(),
		Completed: m.completed,
		Failed:    m.failed,
		Chunks:    m.src.Chunks(),
	}

	for _, c := range m.reg.Connections() {
		s.Connections = append(s.Connections, ConnectionInfo{
			ClientID:        c.ClientID,
			ServerID:        c.ServerID,
			Peer:            c.Addr.String(),
			Cursor:          c.Cursor,
			State:           c.State.String(),
			Retransmissions: c.Retransmissions,
		})
	}

	m.snapshotMutex.Lock()
	m.snapshot = s
	m.snapshotMutex.Unlock()
}

// Snapshot of the latest iteration, safe for concurrent use.
func (m *Multiplexer) Snapshot() Snapshot {
	m.snapshotMutex.Lock()
	defer m.snapshotMutex.Unlock()

	s := m.snapshot
	s.Connections = append([]ConnectionInfo(nil), m.snapshot.Connections...)
	return s
}
