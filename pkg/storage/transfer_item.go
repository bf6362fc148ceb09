// SPDX-FileCopyrightText: 2019, 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"fmt"
	"time"
)

// TransferItem records a single served or received file transfer.
type TransferItem struct {
	Id       string `badgerhold:"key"`
	ClientID uint32 `badgerholdIndex:"ClientID"`

	Peer string
	File string

	Chunks          int
	Bytes           int64
	Checksum        uint16
	Retransmissions int

	Completed bool `badgerholdIndex:"Completed"`
	Error     string

	Started  time.Time
	Finished time.Time
}

// NewTransferItem for a transfer with a client, started now.
func NewTransferItem(clientID uint32, peer, file string) TransferItem {
	now := time.Now()

	return TransferItem{
		Id:       fmt.Sprintf("%03d-%d", clientID, now.UnixNano()),
		ClientID: clientID,
		Peer:     peer,
		File:     file,
		Started:  now,
	}
}

// Finish this TransferItem. A nil error marks it as completed.
func (ti *TransferItem) Finish(err error) {
	ti.Finished = time.Now()
	ti.Completed = err == nil
	if err != nil {
		ti.Error = err.Error()
	}
}

// Duration of a finished transfer.
func (ti TransferItem) Duration() time.Duration {
	if ti.Finished.IsZero() {
		return 0
	}
	return ti.Finished.Sub(ti.Started)
}

func (ti TransferItem) String() string {
	return fmt.Sprintf("TransferItem(%s, client=%d, %s, completed=%t)", ti.Id, ti.ClientID, ti.File, ti.Completed)
}
