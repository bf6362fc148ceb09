// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"fmt"
	"math/bits"
	"strings"
)

// Flag is the one-octet packet type of an RDP header. A valid Flag has at
// most one bit set.
type Flag uint8

const (
	// FlagConnect requests a new Connection.
	FlagConnect Flag = 0x01

	// FlagEndConnection confirms the end of a stream.
	FlagEndConnection Flag = 0x02

	// FlagData carries a payload chunk.
	FlagData Flag = 0x04

	// FlagAck acknowledges a DATA packet, referenced by its sequence number.
	FlagAck Flag = 0x08

	// FlagAccept grants a Connection.
	FlagAccept Flag = 0x10

	// FlagTerminate shares its code point between a REJECT during the
	// handshake and the EOF of a stream. Use Kind to tell both apart.
	FlagTerminate Flag = 0x20
)

// Valid checks if at most one bit of this Flag is set.
func (f Flag) Valid() bool {
	return bits.OnesCount8(uint8(f)) <= 1
}

func (f Flag) String() string {
	if !f.Valid() {
		return fmt.Sprintf("INVALID(0x%02x)", uint8(f))
	}

	var names = map[Flag]string{
		FlagConnect:       "CONNECT",
		FlagEndConnection: "END_CONNECTION",
		FlagData:          "DATA",
		FlagAck:           "ACK",
		FlagAccept:        "ACCEPT",
		FlagTerminate:     "REJECT/EOF",
	}

	if name, ok := names[f]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(f))
}

// Phase of a Connection's lifetime, needed to interpret FlagTerminate.
type Phase int

const (
	// PhaseHandshake is the CONNECT/ACCEPT exchange.
	PhaseHandshake Phase = iota

	// PhaseTransfer is everything after an ACCEPT.
	PhaseTransfer
)

func (p Phase) String() string {
	switch p {
	case PhaseHandshake:
		return "handshake"
	case PhaseTransfer:
		return "transfer"
	default:
		return "INVALID"
	}
}

// Kind is the meaning of a Flag, resolved for a Phase.
type Kind int

const (
	KindInvalid Kind = iota
	KindUnknown
	KindConnect
	KindEndConnection
	KindData
	KindAck
	KindAccept
	KindReject
	KindEndOfStream
)

func (k Kind) String() string {
	var names = []string{
		"INVALID", "UNKNOWN", "CONNECT", "END_CONNECTION", "DATA", "ACK",
		"ACCEPT", "REJECT", "EOF"}

	if int(k) < 0 || int(k) >= len(names) {
		return "INVALID"
	}
	return names[k]
}

// Kind resolves this Flag's meaning. FlagTerminate becomes KindReject during
// the handshake and KindEndOfStream while transferring.
func (f Flag) Kind(p Phase) Kind {
	if !f.Valid() {
		return KindInvalid
	}

	switch f {
	case FlagConnect:
		return KindConnect
	case FlagEndConnection:
		return KindEndConnection
	case FlagData:
		return KindData
	case FlagAck:
		return KindAck
	case FlagAccept:
		return KindAccept
	case FlagTerminate:
		if p == PhaseHandshake {
			return KindReject
		}
		return KindEndOfStream
	default:
		return KindUnknown
	}
}

// RejectReason is the metadata of a REJECT packet.
type RejectReason uint32

const (
	// RejectDuplicateID indicates that the requested connection ID is in use.
	RejectDuplicateID RejectReason = 1

	// RejectCapacity indicates that the server admitted its maximum number of
	// clients.
	RejectCapacity RejectReason = 2
)

// Valid reports a known RejectReason. An EOF shares the REJECT flag, but
// carries no reason.
func (rr RejectReason) Valid() bool {
	return rr == RejectDuplicateID || rr == RejectCapacity
}

func (rr RejectReason) String() string {
	switch rr {
	case RejectDuplicateID:
		return "duplicate connection ID"
	case RejectCapacity:
		return "server at capacity"
	default:
		return fmt.Sprintf("unknown reason %d", uint32(rr))
	}
}

// flagsString lists multiple Flags, used for log messages.
func flagsString(flags ...Flag) string {
	var parts = make([]string, len(flags))
	for i, f := range flags {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}
