// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fsp

import "github.com/howeyc/crc16"

var crc16table = crc16.MakeTable(crc16.CCITT)

// Checksum calculates the CRC-16/CCITT of the data, used to compare served and
// received files.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crc16table)
}

// Digest is an io.Writer calculating the same checksum as Checksum.
type Digest struct {
	hash crc16.Hash16
}

// NewDigest creates an empty Digest.
func NewDigest() *Digest {
	return &Digest{hash: crc16.New(crc16table)}
}

func (d *Digest) Write(p []byte) (int, error) {
	return d.hash.Write(p)
}

// Sum16 returns the checksum of everything written so far.
func (d *Digest) Sum16() uint16 {
	return d.hash.Sum16()
}
