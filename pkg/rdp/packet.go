// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	// HeaderSize is the fixed length of each packet's header.
	HeaderSize = 16

	// MaxPayload is the maximum payload length of a DATA packet.
	MaxPayload = 999
)

// Packet is a single RDP datagram.
type Packet struct {
	Flag     Flag
	PktSeq   uint8
	AckSeq   uint8
	Reserved uint8

	SenderID uint32
	RecvID   uint32

	// Metadata is the payload length for DATA and the RejectReason for REJECT.
	Metadata uint32

	// Payload is only present for DATA packets.
	Payload []byte
}

// NewPacket creates a Packet. A payload is only attached for FlagData and will
// be truncated to MaxPayload bytes. For DATA packets the metadata is set to
// the payload's length.
func NewPacket(flag Flag, pktSeq, ackSeq uint8, senderID, recvID, metadata uint32, payload []byte) Packet {
	p := Packet{
		Flag:     flag,
		PktSeq:   pktSeq,
		AckSeq:   ackSeq,
		SenderID: senderID,
		RecvID:   recvID,
		Metadata: metadata,
	}

	if flag != FlagData {
		return p
	}

	if len(payload) > MaxPayload {
		log.WithFields(log.Fields{
			"length":  len(payload),
			"maximum": MaxPayload,
		}).Warn("Payload exceeds maximum length, truncating")

		payload = payload[:MaxPayload]
	}

	p.Payload = make([]byte, len(payload))
	copy(p.Payload, payload)
	p.Metadata = uint32(len(payload))

	return p
}

func (p Packet) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Packet(%v, pktseq=%d, ackseq=%d, sender=%d, recv=%d, metadata=%d",
		p.Flag, p.PktSeq, p.AckSeq, p.SenderID, p.RecvID, p.Metadata)
	if p.Flag == FlagData {
		fmt.Fprintf(&b, ", payload=%d bytes", len(p.Payload))
	}
	b.WriteString(")")

	return b.String()
}

// MarshalBinary encodes this Packet into its wire form. Only DATA packets
// carry their payload.
func (p Packet) MarshalBinary() (data []byte, err error) {
	if !p.Flag.Valid() {
		err = fmt.Errorf("Packet's flag %v is invalid", p.Flag)
		return
	}

	if p.Flag == FlagData {
		if len(p.Payload) > MaxPayload {
			err = fmt.Errorf("Packet's payload is %d bytes, maximum is %d", len(p.Payload), MaxPayload)
			return
		} else if int(p.Metadata) != len(p.Payload) {
			err = fmt.Errorf("Packet's metadata is %d instead of %d", p.Metadata, len(p.Payload))
			return
		}
	}

	var buf = new(bytes.Buffer)
	var fields = []interface{}{
		p.Flag,
		p.PktSeq,
		p.AckSeq,
		p.Reserved,
		p.SenderID,
		p.RecvID,
		p.Metadata}

	for _, field := range fields {
		if binErr := binary.Write(buf, binary.BigEndian, field); binErr != nil {
			err = binErr
			return
		}
	}

	if p.Flag == FlagData {
		buf.Write(p.Payload)
	}

	data = buf.Bytes()
	return
}

// UnmarshalBinary decodes a received datagram. The given data must be exactly
// the received bytes.
func (p *Packet) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("Packet is %d bytes, header requires %d", len(data), HeaderSize)
	}

	var buf = bytes.NewBuffer(data)
	var fields = []interface{}{
		&p.Flag,
		&p.PktSeq,
		&p.AckSeq,
		&p.Reserved,
		&p.SenderID,
		&p.RecvID,
		&p.Metadata}

	for _, field := range fields {
		if err := binary.Read(buf, binary.BigEndian, field); err != nil {
			return err
		}
	}

	p.Payload = nil
	if p.Flag != FlagData {
		return nil
	}

	if p.Metadata > MaxPayload {
		return fmt.Errorf("Packet's metadata %d exceeds maximum payload %d", p.Metadata, MaxPayload)
	} else if int(p.Metadata) > buf.Len() {
		return fmt.Errorf("Packet's metadata announces %d bytes, only %d were received", p.Metadata, buf.Len())
	}

	p.Payload = make([]byte, p.Metadata)
	copy(p.Payload, buf.Next(int(p.Metadata)))

	return nil
}

// ParsePacket is a shortcut for UnmarshalBinary.
func ParsePacket(data []byte) (p Packet, err error) {
	err = p.UnmarshalBinary(data)
	return
}
