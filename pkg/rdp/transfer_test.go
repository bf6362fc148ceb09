// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func TestWaitForConfirmation(t *testing.T) {
	tests := []struct {
		name     string
		packet   *Packet
		raw      []byte
		expected Confirmation
		protoErr bool
	}{
		{"matching ACK", &Packet{Flag: FlagAck, AckSeq: 5}, nil, Confirmed, false},
		{"END_CONNECTION", &Packet{Flag: FlagEndConnection, PktSeq: 1}, nil, Confirmed, false},
		{"stale ACK", &Packet{Flag: FlagAck, AckSeq: 4}, nil, ConfirmError, true},
		{"CONNECT", &Packet{Flag: FlagConnect, SenderID: 3}, nil, ConfirmError, true},
		{"truncated header", nil, make([]byte, 3), ConfirmError, true},
		{"invalid flag", nil, append([]byte{0x11}, make([]byte, HeaderSize-1)...), ConfirmError, true},
		{"nothing", nil, nil, ConfirmNone, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv := newTestEndpoint(t, listenLoopback(t), testConfig())
			peer := listenLoopback(t)

			seq := srv.Sequence()
			for i := 0; i < 5; i++ {
				seq.Next(false)
			}

			if test.packet != nil {
				sendRaw(t, peer, *test.packet, srv.LocalAddr())
			} else if test.raw != nil {
				if _, err := peer.WriteTo(test.raw, srv.LocalAddr()); err != nil {
					t.Fatal(err)
				}
			}

			conf, err := srv.WaitForConfirmation(seq)
			if conf != test.expected {
				t.Fatalf("expected := %v, got := %v (%v)", test.expected, conf, err)
			}

			var pe *ProtocolError
			if isProto := errors.As(err, &pe); isProto != test.protoErr {
				t.Fatalf("ProtocolError expected := %t, got := %v", test.protoErr, err)
			}
		})
	}
}

func TestReceiveStreamDuplicates(t *testing.T) {
	conf := testConfig()
	conf.LingerTimeout = 0

	cli := newTestEndpoint(t, listenLoopback(t), conf)
	srv := listenLoopback(t)
	c := newConnection(42, srv.LocalAddr(), cli.Sequence())

	packets := []Packet{
		NewPacket(FlagData, 7, 0, ServerID, 0, 0, []byte("abc")),
		NewPacket(FlagData, 7, 0, ServerID, 0, 0, []byte("abc")),
		NewPacket(FlagData, 8, 0, ServerID, 0, 0, []byte("def")),
		NewPacket(FlagTerminate, 9, 0, ServerID, 0, 0, nil),
	}
	for _, p := range packets {
		sendRaw(t, srv, p, cli.LocalAddr())
	}

	var buf bytes.Buffer
	stats, err := cli.ReceiveStream(c, &buf)
	if err != nil {
		t.Fatal(err)
	}

	if s := buf.String(); s != "abcdef" {
		t.Fatalf("Stream: expected := abcdef, got := %s", s)
	}
	if stats.Packets != 3 || stats.Duplicates != 1 || stats.Bytes != 6 {
		t.Fatalf("Stats: expected := 3/1/6, got := %+v", stats)
	}
	if c.State != Closed {
		t.Fatalf("State: expected := %v, got := %v", Closed, c.State)
	}

	answers := []struct {
		flag   Flag
		ackSeq uint8
	}{
		{FlagAck, 7},
		{FlagAck, 7},
		{FlagAck, 8},
		{FlagEndConnection, 0},
	}
	for i, answer := range answers {
		p, _, err := readRaw(srv, time.Second)
		if err != nil {
			t.Fatalf("Answer %d: %v", i, err)
		}
		if p.Flag != answer.flag || p.AckSeq != answer.ackSeq {
			t.Fatalf("Answer %d: expected := %v/%d, got := %v", i, answer.flag, answer.ackSeq, p)
		}
	}
}

func TestReceivePayloadUnexpected(t *testing.T) {
	cli := newTestEndpoint(t, listenLoopback(t), testConfig())
	srv := listenLoopback(t)
	c := newConnection(42, srv.LocalAddr(), cli.Sequence())

	sendRaw(t, srv, NewPacket(FlagAccept, 0, 0, 42, ServerID, 0, nil), cli.LocalAddr())

	_, _, err := cli.ReceivePayload(c, make([]byte, MaxPayload))
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected := ProtocolError, got := %v", err)
	}
}

func TestReceivePayloadEOF(t *testing.T) {
	cli := newTestEndpoint(t, listenLoopback(t), testConfig())
	srv := listenLoopback(t)
	c := newConnection(42, srv.LocalAddr(), cli.Sequence())

	sendRaw(t, srv, NewPacket(FlagTerminate, 3, 0, ServerID, 0, 0, nil), cli.LocalAddr())

	if n, _, err := cli.ReceivePayload(c, make([]byte, MaxPayload)); err != io.EOF || n != 0 {
		t.Fatalf("expected := 0/EOF, got := %d/%v", n, err)
	}

	if p, _, err := readRaw(srv, time.Second); err != nil {
		t.Fatal(err)
	} else if p.Flag != FlagEndConnection {
		t.Fatalf("expected := END_CONNECTION, got := %v", p)
	}
}

func TestReceivePayloadStaleReject(t *testing.T) {
	cli := newTestEndpoint(t, listenLoopback(t), testConfig())
	srv := listenLoopback(t)
	c := newConnection(42, srv.LocalAddr(), cli.Sequence())

	// A repeated CONNECT was refused after the Connection got adopted.
	sendRaw(t, srv, NewPacket(FlagTerminate, 0, 0, ServerID, 42, uint32(RejectDuplicateID), nil), cli.LocalAddr())
	sendRaw(t, srv, NewPacket(FlagData, 4, 0, ServerID, 0, 0, []byte("chunk")), cli.LocalAddr())

	buf := make([]byte, MaxPayload)
	n, seq, err := cli.ReceivePayload(c, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "chunk" || seq != 4 {
		t.Fatalf("expected := chunk/4, got := %q/%d", buf[:n], seq)
	}
}

func TestReceivePayloadTimeout(t *testing.T) {
	conf := testConfig()
	conf.ReceiveTimeout = 30 * time.Millisecond

	cli := newTestEndpoint(t, listenLoopback(t), conf)
	c := newConnection(42, listenLoopback(t).LocalAddr(), cli.Sequence())

	if _, _, err := cli.ReceivePayload(c, make([]byte, MaxPayload)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected := %v, got := %v", ErrTimeout, err)
	}
}

func TestWriteRetriesExhausted(t *testing.T) {
	conf := testConfig()
	conf.ConfirmTimeout = 20 * time.Millisecond
	conf.MaxRetries = 3

	srv := newTestEndpoint(t, listenLoopback(t), conf)
	peer := listenLoopback(t)
	c := newConnection(42, peer.LocalAddr(), srv.Sequence())

	err := srv.Write(c, []byte("unheard"))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected := %v, got := %v", ErrRetriesExhausted, err)
	}
	if c.Retransmissions != 3 {
		t.Fatalf("Retransmissions: expected := 3, got := %d", c.Retransmissions)
	}

	for i := 0; i < 4; i++ {
		p, _, err := readRaw(peer, time.Second)
		if err != nil {
			t.Fatalf("Transmission %d: %v", i, err)
		}
		if p.Flag != FlagData || p.PktSeq != 1 || string(p.Payload) != "unheard" {
			t.Fatalf("Transmission %d is wrong: %v", i, p)
		}
	}
}

func TestWriteRetransmitAfterLoss(t *testing.T) {
	srv := newTestEndpoint(t, listenLoopback(t), testConfig())
	peer := listenLoopback(t)
	c := newConnection(42, peer.LocalAddr(), srv.Sequence())

	seqs := make(chan uint8, 2)
	go func() {
		defer close(seqs)

		// The first transmission is "lost".
		first, _, err := readRaw(peer, time.Second)
		if err != nil {
			return
		}
		seqs <- first.PktSeq

		second, addr, err := readRaw(peer, time.Second)
		if err != nil {
			return
		}
		seqs <- second.PktSeq

		ack := NewPacket(FlagAck, 0, second.PktSeq, 0, 0, 0, nil)
		data, _ := ack.MarshalBinary()
		_, _ = peer.WriteTo(data, addr)
	}()

	if err := srv.Write(c, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	first, second := <-seqs, <-seqs
	if first != second {
		t.Fatalf("Retransmission changed sequence number from %d to %d", first, second)
	}
	if c.Retransmissions != 1 {
		t.Fatalf("Retransmissions: expected := 1, got := %d", c.Retransmissions)
	}
}
