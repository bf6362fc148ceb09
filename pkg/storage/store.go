// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage persists a log of file transfers.
package storage

import (
	"os"
	"path"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"
)

const dirBadger string = "db"

// Store is a persistent log of TransferItems.
type Store struct {
	bh *badgerhold.Store

	badgerDir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh:        bh,
			badgerDir: badgerDir,
		}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Push a TransferItem. An already known item will be updated.
func (s *Store) Push(ti TransferItem) error {
	if _, err := s.QueryId(ti.Id); err == badgerhold.ErrNotFound {
		log.WithField("transfer", ti).Debug("Store inserts TransferItem")
		return s.bh.Insert(ti.Id, ti)
	} else if err != nil {
		return err
	}

	log.WithField("transfer", ti).Debug("Store updates TransferItem")
	return s.bh.Update(ti.Id, ti)
}

// QueryId fetches the TransferItem for this ID.
func (s *Store) QueryId(id string) (ti TransferItem, err error) {
	err = s.bh.Get(id, &ti)
	return
}

// QueryClient fetches all TransferItems of a client ID.
func (s *Store) QueryClient(clientID uint32) (tis []TransferItem, err error) {
	err = s.bh.Find(&tis, badgerhold.Where("ClientID").Eq(clientID))
	return
}

// QueryCompleted fetches all successful transfers.
func (s *Store) QueryCompleted() (tis []TransferItem, err error) {
	err = s.bh.Find(&tis, badgerhold.Where("Completed").Eq(true))
	return
}

// QueryAll fetches every TransferItem.
func (s *Store) QueryAll() (tis []TransferItem, err error) {
	err = s.bh.Find(&tis, &badgerhold.Query{})
	return
}

// KnowsTransfer checks if such a TransferItem exists.
func (s *Store) KnowsTransfer(id string) bool {
	_, err := s.QueryId(id)
	return err != badgerhold.ErrNotFound
}
