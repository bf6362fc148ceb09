// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"errors"
	"io"
	"testing"
	"time"
)

type connectResult struct {
	conn *Connection
	err  error
}

// acceptOne listens until a datagram arrives and passes it to Accept.
func acceptOne(t *testing.T, srv *Endpoint, reg *Registry) (*Connection, error) {
	for i := 0; i < 100; i++ {
		ready, err := srv.Listen()
		if err != nil {
			t.Fatal(err)
		} else if ready {
			return srv.Accept(reg)
		}
	}

	t.Fatalf("No connection request arrived")
	return nil, nil
}

func connectAsync(cli, srv *Endpoint, clientID uint32) chan connectResult {
	results := make(chan connectResult, 1)
	go func() {
		c, err := cli.ConnectWithID(srv.LocalAddr(), clientID)
		results <- connectResult{c, err}
	}()
	return results
}

func TestHandshakeAccept(t *testing.T) {
	srv := newTestEndpoint(t, listenLoopback(t), testConfig())
	cli := newTestEndpoint(t, listenLoopback(t), testConfig())
	reg := NewRegistry(1)

	results := connectAsync(cli, srv, 42)

	c, err := acceptOne(t, srv, reg)
	if err != nil {
		t.Fatal(err)
	} else if c == nil {
		t.Fatalf("Accept returned no connection")
	}

	if c.ClientID != 42 || c.ServerID != ServerID || c.Cursor != 0 || c.State != Established {
		t.Fatalf("Server connection is wrong: %v", c)
	}
	if a := reg.Admitted(); a != 1 {
		t.Fatalf("Admitted: expected := 1, got := %d", a)
	}
	if c.Sequence() != srv.Sequence() {
		t.Fatalf("Connection does not share the endpoint's sequence counter")
	}

	res := <-results
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.conn.ClientID != 42 || res.conn.ServerID != ServerID || res.conn.State != Established {
		t.Fatalf("Client connection is wrong: %v", res.conn)
	}
	if res.conn.Addr.String() != srv.LocalAddr().String() {
		t.Fatalf("Client peer: expected := %v, got := %v", srv.LocalAddr(), res.conn.Addr)
	}
}

func TestHandshakeReject(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		present  []uint32
		reason   RejectReason
	}{
		{"duplicate ID", 2, []uint32{42}, RejectDuplicateID},
		{"capacity", 1, []uint32{7}, RejectCapacity},
		{"duplicate ID at capacity", 1, []uint32{42}, RejectDuplicateID},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv := newTestEndpoint(t, listenLoopback(t), testConfig())
			cli := newTestEndpoint(t, listenLoopback(t), testConfig())

			reg := NewRegistry(test.capacity)
			for _, id := range test.present {
				reg.Add(testConnection(id))
			}
			admitted := reg.Admitted()

			results := connectAsync(cli, srv, 42)

			c, err := acceptOne(t, srv, reg)
			var srvErr *RejectedError
			if c != nil || !errors.As(err, &srvErr) || srvErr.Reason != test.reason {
				t.Fatalf("Server: expected := reject %v, got := %v / %v", test.reason, c, err)
			}
			if a := reg.Admitted(); a != admitted {
				t.Fatalf("Rejection changed admitted counter: %d to %d", admitted, a)
			}

			res := <-results
			var cliErr *RejectedError
			if res.conn != nil || !errors.As(res.err, &cliErr) {
				t.Fatalf("Client: expected := RejectedError, got := %v / %v", res.conn, res.err)
			}
			if cliErr.Reason != test.reason || cliErr.ClientID != 42 {
				t.Fatalf("Client rejection: expected := %v, got := %v", test.reason, cliErr)
			}
		})
	}
}

func TestConnectTimeout(t *testing.T) {
	conf := testConfig()
	conf.ConnectTimeout = 50 * time.Millisecond

	silent := listenLoopback(t)
	cli := newTestEndpoint(t, listenLoopback(t), conf)

	if _, err := cli.Connect(silent.LocalAddr()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected := %v, got := %v", ErrTimeout, err)
	}
}

func TestConnectUnexpectedAnswer(t *testing.T) {
	fake := listenLoopback(t)
	cli := newTestEndpoint(t, listenLoopback(t), testConfig())

	go func() {
		if _, addr, err := readRaw(fake, time.Second); err == nil {
			p := NewPacket(FlagAck, 0, 1, 0, 0, 0, nil)
			data, _ := p.MarshalBinary()
			_, _ = fake.WriteTo(data, addr)
		}
	}()

	_, err := cli.ConnectWithID(fake.LocalAddr(), 5)
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Flag != FlagAck {
		t.Fatalf("expected := ProtocolError for ACK, got := %v", err)
	}
}

func TestConnectWithoutAccept(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		answer Flag
		err    error
	}{
		{"data", NewPacket(FlagData, 1, 0, ServerID, 0, 0, []byte("first chunk")), FlagAck, nil},
		{"eof", NewPacket(FlagTerminate, 1, 0, ServerID, 0, 0, nil), FlagEndConnection, io.EOF},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := listenLoopback(t)
			cli := newTestEndpoint(t, listenLoopback(t), testConfig())

			// The server admits the client, but its ACCEPT gets lost.
			go func() {
				if _, addr, err := readRaw(server, time.Second); err == nil {
					data, _ := test.packet.MarshalBinary()
					_, _ = server.WriteTo(data, addr)
				}
			}()

			c, err := cli.ConnectWithID(server.LocalAddr(), 17)
			if err != nil {
				t.Fatal(err)
			}
			if c.ClientID != 17 || c.State != Established || c.Addr.String() != server.LocalAddr().String() {
				t.Fatalf("Adopted connection differs: %v", c)
			}

			buf := make([]byte, MaxPayload)
			n, seq, err := cli.ReceivePayload(c, buf)
			if err != test.err {
				t.Fatalf("expected := %v, got := %v", test.err, err)
			}
			if test.err == nil && (string(buf[:n]) != "first chunk" || seq != 1) {
				t.Fatalf("Kept packet differs: %q, seq %d", buf[:n], seq)
			}

			if p, _, err := readRaw(server, time.Second); err != nil {
				t.Fatal(err)
			} else if p.Flag != test.answer {
				t.Fatalf("Answer: expected := %v, got := %v", test.answer, p)
			}
		})
	}
}

func TestConnectDataFromStranger(t *testing.T) {
	server := listenLoopback(t)
	stranger := listenLoopback(t)
	cli := newTestEndpoint(t, listenLoopback(t), testConfig())

	go func() {
		if _, addr, err := readRaw(server, time.Second); err == nil {
			data, _ := NewPacket(FlagData, 1, 0, ServerID, 0, 0, []byte("nope")).MarshalBinary()
			_, _ = stranger.WriteTo(data, addr)
		}
	}()

	_, err := cli.ConnectWithID(server.LocalAddr(), 5)
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Flag != FlagData {
		t.Fatalf("expected := ProtocolError for DATA, got := %v", err)
	}
}

func TestRejectWireFormat(t *testing.T) {
	srv := newTestEndpoint(t, listenLoopback(t), testConfig())
	peer := listenLoopback(t)
	reg := NewRegistry(1)
	reg.Add(testConnection(7))

	sendRaw(t, peer, NewPacket(FlagConnect, 0, 0, 9, ServerID, 0, nil), srv.LocalAddr())
	if _, err := acceptOne(t, srv, reg); err == nil {
		t.Fatalf("Request was not rejected")
	}

	p, _, err := readRaw(peer, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.Flag != FlagTerminate || p.SenderID != ServerID || p.RecvID != 9 || RejectReason(p.Metadata) != RejectCapacity {
		t.Fatalf("REJECT differs: %v", p)
	}
}

func TestAcceptIgnoresOtherPackets(t *testing.T) {
	srv := newTestEndpoint(t, listenLoopback(t), testConfig())
	peer := listenLoopback(t)
	reg := NewRegistry(1)

	sendRaw(t, peer, NewPacket(FlagAck, 0, 3, 5, ServerID, 0, nil), srv.LocalAddr())

	if c, err := acceptOne(t, srv, reg); c != nil || err != nil {
		t.Fatalf("expected := nil/nil, got := %v / %v", c, err)
	}
	if a := reg.Admitted(); a != 0 {
		t.Fatalf("Admitted: expected := 0, got := %d", a)
	}
	if _, _, err := readRaw(peer, 50*time.Millisecond); err == nil {
		t.Fatalf("Server answered an ignored packet")
	}
}

func TestAcceptIgnoresLateAck(t *testing.T) {
	srv := newTestEndpoint(t, listenLoopback(t), testConfig())
	peer := listenLoopback(t)
	reg := NewRegistry(1)

	sendRaw(t, peer, NewPacket(FlagConnect, 0, 0, 7, ServerID, 0, nil), srv.LocalAddr())
	if c, err := acceptOne(t, srv, reg); err != nil || c == nil {
		t.Fatalf("expected a connection, got := %v / %v", c, err)
	}
	if _, _, err := readRaw(peer, time.Second); err != nil {
		t.Fatalf("No ACCEPT: %v", err)
	}

	// Neither a duplicate ID nor the full Registry must answer a late ACK.
	sendRaw(t, peer, NewPacket(FlagAck, 0, 1, 7, ServerID, 0, nil), srv.LocalAddr())
	if c, err := acceptOne(t, srv, reg); c != nil || err != nil {
		t.Fatalf("expected := nil/nil, got := %v / %v", c, err)
	}
	if _, _, err := readRaw(peer, 50*time.Millisecond); err == nil {
		t.Fatalf("Server answered a late ACK")
	}
}

func TestAdopt(t *testing.T) {
	ep := newTestEndpoint(t, listenLoopback(t), testConfig())
	server := listenLoopback(t)

	c := ep.Adopt(server.LocalAddr(), 42)
	if c.ClientID != 42 || c.ServerID != ServerID || c.State != Established {
		t.Fatalf("Adopted connection differs: %v", c)
	}
	if c.Addr.String() != server.LocalAddr().String() {
		t.Fatalf("Address: expected := %v, got := %v", server.LocalAddr(), c.Addr)
	}
	if c.Sequence() != ep.Sequence() {
		t.Fatalf("Adopted connection does not use the endpoint's sequence counter")
	}
}

func TestAcceptInvalidFlag(t *testing.T) {
	srv := newTestEndpoint(t, listenLoopback(t), testConfig())
	peer := listenLoopback(t)
	reg := NewRegistry(1)

	sendRaw(t, peer, Packet{Flag: FlagConnect, SenderID: 5}, srv.LocalAddr())
	// Craft a header with two bits set, which MarshalBinary refuses.
	invalid := []byte{0x11, 0, 0, 0, 0, 0, 0, 6, 0, 0, 0, 0, 0, 0, 0, 0}
	if _, err := peer.WriteTo(invalid, srv.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	if c, err := acceptOne(t, srv, reg); err != nil || c == nil || c.ClientID != 5 {
		t.Fatalf("First request: expected a connection, got := %v / %v", c, err)
	}

	c, err := acceptOne(t, srv, reg)
	var pe *ProtocolError
	if c != nil || !errors.As(err, &pe) {
		t.Fatalf("Invalid request: expected := ProtocolError, got := %v / %v", c, err)
	}
	if a := reg.Admitted(); a != 1 {
		t.Fatalf("Admitted: expected := 1, got := %d", a)
	}
}
