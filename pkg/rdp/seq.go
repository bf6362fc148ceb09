// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdp

import (
	"math/rand"
	"sync"
	"time"
)

// maxConnectionID is the exclusive upper bound of connection IDs.
const maxConnectionID = 999

// SequenceCounter yields packet sequence numbers. It wraps around after 255.
type SequenceCounter struct {
	seq   uint8
	mutex sync.Mutex
}

// Next advances the counter and returns the new value. For a retransmission,
// the current value is returned without advancing.
func (sc *SequenceCounter) Next(retry bool) uint8 {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !retry {
		sc.seq++
	}
	return sc.seq
}

// Current returns the latest sequence number.
func (sc *SequenceCounter) Current() uint8 {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	return sc.seq
}

var (
	idRand      = rand.New(rand.NewSource(time.Now().UnixNano()))
	idRandMutex sync.Mutex
)

// NewConnectionID returns a random connection ID from [0, 999).
func NewConnectionID() uint32 {
	idRandMutex.Lock()
	defer idRandMutex.Unlock()

	return uint32(idRand.Intn(maxConnectionID))
}

// DuplicateFilter remembers the last delivered sequence number of a stream.
// Its zero value has not seen anything yet.
type DuplicateFilter struct {
	seen bool
	last uint8
}

// Fresh reports whether seq differs from the previous sequence number and
// remembers it.
func (df *DuplicateFilter) Fresh(seq uint8) bool {
	if df.seen && df.last == seq {
		return false
	}

	df.seen = true
	df.last = seq
	return true
}
