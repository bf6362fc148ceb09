// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"reflect"
	"testing"

	"github.com/schollz/peerdiscovery"
)

func TestAnnouncementCbor(t *testing.T) {
	var tests = []Announcement{
		NewAnnouncement(8000, "kernel.img", 3),
		NewAnnouncement(65535, "", 0),
		NewAnnouncement(1, "with spaces/and-slashes", 123456),
	}

	for _, aIn := range tests {
		data, err := MarshalAnnouncement(aIn)
		if err != nil {
			t.Fatalf("Encoding failed: %v", err)
		}

		aOut, err := UnmarshalAnnouncement(data)
		if err != nil {
			t.Fatalf("Decoding failed: %v", err)
		}

		if !reflect.DeepEqual(aIn, aOut) {
			t.Fatalf("Decoded Announcement differs: %v became %v", aIn, aOut)
		}
	}
}

func TestAnnouncementInvalid(t *testing.T) {
	var tests = []Announcement{
		{Service: "dtn", Port: 8000},
		{Service: service, Port: 0},
		{Service: service, Port: 70000},
	}

	for _, a := range tests {
		data, err := MarshalAnnouncement(a)
		if err != nil {
			t.Fatal(err)
		}

		if _, err := UnmarshalAnnouncement(data); err == nil {
			t.Fatalf("Invalid Announcement %v was accepted", a)
		}
	}

	if _, err := UnmarshalAnnouncement([]byte{}); err == nil {
		t.Fatalf("Empty payload was accepted")
	}
}

func TestServerFromDiscovered(t *testing.T) {
	data, err := MarshalAnnouncement(NewAnnouncement(4000, "kernel.img", 3))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		address  string
		expected string
	}{
		{"192.168.1.5", "192.168.1.5:4000"},
		{"fe80::1", "[fe80::1]:4000"},
	}

	for _, test := range tests {
		s, err := serverFromDiscovered(peerdiscovery.Discovered{Address: test.address, Payload: data})
		if err != nil {
			t.Fatal(err)
		}
		if s.Address != test.expected {
			t.Fatalf("expected := %s, got := %s", test.expected, s.Address)
		}
	}
}
