// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package rdp

import (
	"net"
	"time"
)

// pollReadable is not available on this platform. Endpoint.Poll falls back to
// a read with a deadline and keeps the datagram for the next receive.
func pollReadable(_ net.PacketConn, _ time.Duration) (ready, supported bool, err error) {
	return
}
