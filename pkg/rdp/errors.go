// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout signals that the peer did not answer in time. Connecting may
	// be retried afterwards.
	ErrTimeout = errors.New("no response within timeout")

	// ErrRetriesExhausted is returned when Config.MaxRetries retransmissions
	// were sent without any confirmation.
	ErrRetriesExhausted = errors.New("retransmission limit reached")
)

// ProtocolError is a received packet which is invalid or unexpected for the
// current operation.
type ProtocolError struct {
	Op       string
	Flag     Flag
	Expected []Flag
	Msg      string
}

func newProtocolError(op string, flag Flag, expected ...Flag) *ProtocolError {
	return &ProtocolError{Op: op, Flag: flag, Expected: expected}
}

func (pe *ProtocolError) Error() string {
	switch {
	case pe.Msg != "":
		return fmt.Sprintf("%s: %s", pe.Op, pe.Msg)
	case !pe.Flag.Valid():
		return fmt.Sprintf("%s: invalid flag %v", pe.Op, pe.Flag)
	case len(pe.Expected) > 0:
		return fmt.Sprintf("%s: unexpected flag %v, expected %s", pe.Op, pe.Flag, flagsString(pe.Expected...))
	default:
		return fmt.Sprintf("%s: unexpected flag %v", pe.Op, pe.Flag)
	}
}

// RejectedError is a handshake refused by the server.
type RejectedError struct {
	ClientID uint32
	Reason   RejectReason
}

func (re *RejectedError) Error() string {
	return fmt.Sprintf("connection %d rejected: %v", re.ClientID, re.Reason)
}

// FatalError wraps failures of the socket or the application's data source.
// Those cannot be recovered from.
type FatalError struct {
	Op  string
	Err error
}

func (fe *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", fe.Op, fe.Err)
}

func (fe *FatalError) Unwrap() error {
	return fe.Err
}

// IsFatal checks if an error chain contains a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
