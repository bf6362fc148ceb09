// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"errors"
	"fmt"
	"io"
	"net"

	log "github.com/sirupsen/logrus"
)

// Confirmation is the outcome of WaitForConfirmation.
type Confirmation int

const (
	// ConfirmNone means nothing arrived in time.
	ConfirmNone Confirmation = iota

	// Confirmed is a matching ACK or an END_CONNECTION.
	Confirmed

	// ConfirmError is an invalid or unexpected packet.
	ConfirmError
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmNone:
		return "none"
	case Confirmed:
		return "confirmed"
	case ConfirmError:
		return "error"
	default:
		return "INVALID"
	}
}

// SendPayload sends a DATA packet. A retransmission reuses the current
// sequence number, otherwise the counter advances. Payloads exceeding
// MaxPayload are truncated.
func (ep *Endpoint) SendPayload(addr net.Addr, seq *SequenceCounter, payload []byte, retry bool) (int, error) {
	p := NewPacket(FlagData, seq.Next(retry), 0, ServerID, 0, 0, payload)
	return ep.send(p, addr)
}

// SendEndOfStream sends an EOF packet.
func (ep *Endpoint) SendEndOfStream(addr net.Addr, seq *SequenceCounter, retry bool) (int, error) {
	p := NewPacket(FlagTerminate, seq.Next(retry), 0, ServerID, 0, 0, nil)
	return ep.send(p, addr)
}

// SendAck acknowledges the DATA packet with sequence number ackSeq.
func (ep *Endpoint) SendAck(addr net.Addr, ackSeq uint8) (int, error) {
	p := NewPacket(FlagAck, 0, ackSeq, 0, 0, 0, nil)
	return ep.send(p, addr)
}

// SendEndConnection confirms a received EOF.
func (ep *Endpoint) SendEndConnection(addr net.Addr, seq *SequenceCounter, retry bool) (int, error) {
	p := NewPacket(FlagEndConnection, seq.Next(retry), 0, 0, 0, 0, nil)
	return ep.send(p, addr)
}

// WaitForConfirmation waits up to Config.ConfirmTimeout for the confirmation
// of the latest packet of seq.
//
// An ACK echoing the counter's current value or an END_CONNECTION confirm the
// packet. An ACK for another sequence number or any other packet results in
// ConfirmError together with a ProtocolError. Socket failures are reported as
// ConfirmError with a FatalError.
func (ep *Endpoint) WaitForConfirmation(seq *SequenceCounter) (Confirmation, error) {
	const op = "confirmation"

	p, _, err := ep.receive(op, ep.conf.ConfirmTimeout)
	if errors.Is(err, ErrTimeout) {
		return ConfirmNone, nil
	} else if err != nil {
		return ConfirmError, err
	}

	switch p.Flag {
	case FlagAck:
		if expected := seq.Current(); p.AckSeq != expected {
			return ConfirmError, &ProtocolError{
				Op:   op,
				Flag: p.Flag,
				Msg:  fmt.Sprintf("ACK for sequence number %d instead of %d", p.AckSeq, expected),
			}
		}
		return Confirmed, nil

	case FlagEndConnection:
		return Confirmed, nil

	default:
		return ConfirmError, newProtocolError(op, p.Flag, FlagAck, FlagEndConnection)
	}
}

// ReceivePayload blocks for the next packet of a stream and copies a DATA
// payload into buf. Each DATA packet is acknowledged, its sequence number is
// returned for duplicate detection. An EOF is answered by END_CONNECTION and
// reported as io.EOF.
//
// The wait is bounded by Config.ReceiveTimeout, if set.
func (ep *Endpoint) ReceivePayload(c *Connection, buf []byte) (n int, seq uint8, err error) {
	const op = "receive"

	for {
		if ready, pollErr := ep.Poll(ep.conf.ReceiveTimeout); pollErr != nil {
			err = pollErr
			return
		} else if !ready {
			err = ErrTimeout
			return
		}

		var (
			p    Packet
			addr net.Addr
		)
		if p, addr, err = ep.receive(op, ep.conf.ReceiveTimeout); err != nil {
			return
		}

		if isStaleReject(p) {
			log.WithFields(log.Fields{
				"connection": c,
				"reason":     RejectReason(p.Metadata),
			}).Debug("Ignoring REJECT of a repeated CONNECT")
			continue
		}

		return ep.handlePayload(c, p, addr, buf)
	}
}

// isStaleReject detects the late answer to a repeated CONNECT of an already
// admitted client. An EOF carries no reject reason.
func isStaleReject(p Packet) bool {
	return p.Flag == FlagTerminate && RejectReason(p.Metadata).Valid()
}

// handlePayload answers a DATA or EOF packet, see ReceivePayload.
func (ep *Endpoint) handlePayload(c *Connection, p Packet, addr net.Addr, buf []byte) (n int, seq uint8, err error) {
	const op = "receive"

	switch p.Flag.Kind(PhaseTransfer) {
	case KindEndOfStream:
		if _, err = ep.SendEndConnection(addr, c.seq, false); err == nil {
			err = io.EOF
		}
		return

	case KindData:
		if len(buf) < len(p.Payload) {
			err = io.ErrShortBuffer
			return
		}

		n = copy(buf, p.Payload)
		seq = p.PktSeq

		_, err = ep.SendAck(addr, seq)
		return

	default:
		err = newProtocolError(op, p.Flag, FlagData, FlagTerminate)
		return
	}
}

// stopAndWait transmits a packet until it is confirmed. A failing first
// transmission is not counted as a retransmission.
func (ep *Endpoint) stopAndWait(c *Connection, name string, transmit func(retry bool) error) error {
	logger := log.WithFields(log.Fields{
		"endpoint":   ep,
		"connection": c,
		"packet":     name,
	})

	for retries := 0; ; retries++ {
		if ep.conf.MaxRetries > 0 && retries > ep.conf.MaxRetries {
			logger.WithField("retries", ep.conf.MaxRetries).Warn("Giving up on unconfirmed packet")
			return fmt.Errorf("%s for connection %d: %w", name, c.ClientID, ErrRetriesExhausted)
		}

		retry := retries > 0
		if retry {
			c.Retransmissions++
			logger.WithField("retry", retries).Debug("Retransmitting packet")
		}

		if err := transmit(retry); err != nil {
			return err
		}

		conf, err := ep.WaitForConfirmation(c.seq)
		switch {
		case conf == Confirmed:
			return nil
		case IsFatal(err):
			return err
		case err != nil:
			logger.WithError(err).Debug("Unexpected answer, retransmitting")
		}
	}
}

// Write sends a single chunk to the Connection's peer and retransmits it
// until it is acknowledged, see Config.MaxRetries.
func (ep *Endpoint) Write(c *Connection, payload []byte) error {
	return ep.stopAndWait(c, "DATA", func(retry bool) error {
		_, err := ep.SendPayload(c.Addr, c.seq, payload, retry)
		return err
	})
}

// WriteEndOfStream sends an EOF and retransmits it until the peer's
// END_CONNECTION arrives.
func (ep *Endpoint) WriteEndOfStream(c *Connection) error {
	return ep.stopAndWait(c, "EOF", func(retry bool) error {
		_, err := ep.SendEndOfStream(c.Addr, c.seq, retry)
		return err
	})
}

// ReceiveStats summarizes a received stream.
type ReceiveStats struct {
	Packets    int
	Duplicates int
	Bytes      int64
}

// ReceiveStream reads a whole stream into w until EOF. Retransmitted packets
// are acknowledged again, but only written once.
//
// After the EOF, the Endpoint lingers for Config.LingerTimeout and answers
// repeated EOFs, in case the server missed the END_CONNECTION.
func (ep *Endpoint) ReceiveStream(c *Connection, w io.Writer) (stats ReceiveStats, err error) {
	var (
		buf    = make([]byte, MaxPayload)
		filter DuplicateFilter
	)

	for {
		n, seq, recvErr := ep.ReceivePayload(c, buf)
		if recvErr == io.EOF {
			break
		} else if recvErr != nil {
			err = recvErr
			return
		}

		stats.Packets++
		if !filter.Fresh(seq) {
			stats.Duplicates++
			log.WithFields(log.Fields{
				"connection": c,
				"seq":        seq,
			}).Debug("Discarding duplicate packet")
			continue
		}

		if _, wErr := w.Write(buf[:n]); wErr != nil {
			err = &FatalError{Op: "write", Err: wErr}
			return
		}
		stats.Bytes += int64(n)
	}

	_ = c.State.Next()
	log.WithFields(log.Fields{
		"connection": c,
		"packets":    stats.Packets,
		"duplicates": stats.Duplicates,
		"bytes":      stats.Bytes,
	}).Info("Received end of stream")

	ep.linger(c)
	_ = c.State.Next()

	return
}

// linger answers repeated EOFs until the server stays silent.
func (ep *Endpoint) linger(c *Connection) {
	if ep.conf.LingerTimeout <= 0 {
		return
	}

	for {
		p, addr, err := ep.receive("linger", ep.conf.LingerTimeout)
		if errors.Is(err, ErrTimeout) || IsFatal(err) {
			return
		} else if err != nil {
			continue
		}

		if isStaleReject(p) {
			continue
		}

		switch p.Flag.Kind(PhaseTransfer) {
		case KindEndOfStream:
			if _, err := ep.SendEndConnection(addr, c.seq, false); err != nil {
				return
			}

		case KindData:
			// The ACK of the final chunk got lost.
			if _, err := ep.SendAck(addr, p.PktSeq); err != nil {
				return
			}
		}
	}
}
