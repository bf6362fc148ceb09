// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fsp implements NewFSP, a file transfer on top of RDP.
//
// A server serves one file to a fixed number of clients. Each client connects,
// receives the whole file and stores it under a fresh name, "kernel-file-"
// followed by three random digits.
package fsp

import "github.com/dtn7/rdp-go/pkg/rdp"

const (
	// ChunkSize is the payload length of each DATA packet, except the last.
	ChunkSize = rdp.MaxPayload

	// FilePrefix is the prefix of received files.
	FilePrefix = "kernel-file-"
)
