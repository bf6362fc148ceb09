// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package rdp

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pollReadable waits until the socket's file descriptor becomes readable by
// poll(2), without consuming a datagram. A PacketConn without access to its
// file descriptor is reported as unsupported.
func pollReadable(conn net.PacketConn, timeout time.Duration) (ready, supported bool, err error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return
	}

	rawConn, rawErr := sc.SyscallConn()
	if rawErr != nil {
		return
	}

	var msec = -1
	if timeout > 0 {
		msec = int(timeout / time.Millisecond)
	}

	var n int
	var pollErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			n, pollErr = unix.Poll(fds, msec)
			if pollErr != unix.EINTR {
				return
			}
		}
	})

	supported = true
	if ctrlErr != nil {
		err = ctrlErr
	} else if pollErr != nil {
		err = pollErr
	} else {
		ready = n > 0
	}
	return
}
