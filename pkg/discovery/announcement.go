// SPDX-FileCopyrightText: 2020 Markus Sommer
// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Announcement of a server's RDP port and served file.
type Announcement struct {
	Service string
	Port    uint
	File    string
	Chunks  uint
}

// NewAnnouncement for a server.
func NewAnnouncement(port uint, file string, chunks uint) Announcement {
	return Announcement{
		Service: service,
		Port:    port,
		File:    file,
		Chunks:  chunks,
	}
}

// UnmarshalAnnouncement from a CBOR byte string.
func UnmarshalAnnouncement(data []byte) (announcement Announcement, err error) {
	err = cboring.Unmarshal(&announcement, bytes.NewBuffer(data))
	return
}

// MarshalAnnouncement into a CBOR byte string.
func MarshalAnnouncement(announcement Announcement) (data []byte, err error) {
	buff := new(bytes.Buffer)
	if err = cboring.Marshal(&announcement, buff); err == nil {
		data = buff.Bytes()
	}
	return
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(announcement.Service, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(announcement.Port), w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(announcement.File, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(announcement.Chunks), w); err != nil {
		return err
	}

	return nil
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 4 {
		return fmt.Errorf("wrong array length: %d instead of 4", l)
	}

	if s, err := cboring.ReadTextString(r); err != nil {
		return err
	} else if s != service {
		return fmt.Errorf("unknown service %q", s)
	} else {
		announcement.Service = s
	}
	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if n == 0 || n > 65535 {
		return fmt.Errorf("invalid port %d", n)
	} else {
		announcement.Port = uint(n)
	}
	if s, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		announcement.File = s
	}
	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		announcement.Chunks = uint(n)
	}

	return nil
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%s,%d,%s,%d)",
		announcement.Service, announcement.Port, announcement.File, announcement.Chunks)
}
