// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package rdp implements RDP, a small reliable datagram protocol on top of UDP.
//
// A client connects to a server by a CONNECT/ACCEPT handshake, carrying a
// random connection ID. Afterwards the server pushes a byte stream as DATA
// packets in a stop-and-wait manner: each packet must be acknowledged before
// the next one is sent, otherwise it will be retransmitted with the same
// sequence number. The end of the stream is signaled by an EOF packet, which
// is confirmed by the client's END_CONNECTION.
//
// A single server Endpoint serves multiple clients over one UDP socket. The
// Multiplexer interleaves all admitted Connections by sending one chunk per
// Connection and iteration.
//
// Every packet consists of a fixed 16 byte header, optionally followed by up
// to MaxPayload bytes of payload for DATA packets. All integers are encoded in
// network byte order.
//
//	+------+--------+--------+----------+-----------+---------+-----------+---------+
//	| flag | pktseq | ackseq | reserved | sender ID | recv ID | metadata  | payload |
//	|  u8  |   u8   |   u8   |    u8    |    u32    |   u32   |    u32    |  DATA   |
//	+------+--------+--------+----------+-----------+---------+-----------+---------+
package rdp
