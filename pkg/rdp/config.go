// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config holds an Endpoint's timing and behavior.
type Config struct {
	// ListenTimeout bounds the readiness wait of Listen.
	ListenTimeout time.Duration

	// ConfirmTimeout bounds the wait for an ACK or END_CONNECTION.
	ConfirmTimeout time.Duration

	// ConnectTimeout bounds the client's wait for ACCEPT or REJECT.
	ConnectTimeout time.Duration

	// ReceiveTimeout bounds the client's wait for the next DATA or EOF packet.
	// Zero blocks forever.
	ReceiveTimeout time.Duration

	// LingerTimeout is the time a client keeps answering repeated EOF packets
	// after the stream has ended, in case its END_CONNECTION was lost. Zero
	// disables lingering.
	LingerTimeout time.Duration

	// MaxRetries caps the retransmissions of a single packet. Zero retries
	// forever.
	MaxRetries int

	// PerConnectionSeq gives each server-side Connection its own
	// SequenceCounter instead of the Endpoint's shared one.
	PerConnectionSeq bool
}

// DefaultConfig returns the reference timing.
func DefaultConfig() Config {
	return Config{
		ListenTimeout:  150 * time.Millisecond,
		ConfirmTimeout: 100 * time.Millisecond,
		ConnectTimeout: time.Second,
		ReceiveTimeout: 0,
		LingerTimeout:  500 * time.Millisecond,
		MaxRetries:     0,
	}
}

func (c Config) checkValid() (errs error) {
	var timeouts = []struct {
		name     string
		value    time.Duration
		positive bool
	}{
		{"listen timeout", c.ListenTimeout, true},
		{"confirm timeout", c.ConfirmTimeout, true},
		{"connect timeout", c.ConnectTimeout, true},
		{"receive timeout", c.ReceiveTimeout, false},
		{"linger timeout", c.LingerTimeout, false},
	}

	for _, timeout := range timeouts {
		if timeout.value < 0 || (timeout.positive && timeout.value == 0) {
			errs = multierror.Append(errs, fmt.Errorf("%s of %v is invalid", timeout.name, timeout.value))
		}
	}

	if c.MaxRetries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("max retries of %d is negative", c.MaxRetries))
	}

	return
}
