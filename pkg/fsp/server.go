// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fsp

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rdp-go/pkg/rdp"
	"github.com/dtn7/rdp-go/pkg/storage"
)

// Server serves a FileSource to a fixed number of clients.
type Server struct {
	ep  *rdp.Endpoint
	src *FileSource
	mux *rdp.Multiplexer

	// store is optional.
	store *storage.Store
	out   io.Writer

	transfers map[uint32]*storage.TransferItem
}

// NewServer for clients clients. Connection events are printed to out, and
// logged to the store, if not nil.
func NewServer(ep *rdp.Endpoint, src *FileSource, clients int, store *storage.Store, out io.Writer) *Server {
	s := &Server{
		ep:        ep,
		src:       src,
		store:     store,
		out:       out,
		transfers: make(map[uint32]*storage.TransferItem),
	}

	s.mux = rdp.NewMultiplexer(ep, rdp.NewRegistry(clients), src)
	s.mux.OnAccept = s.onAccept
	s.mux.OnReject = s.onReject
	s.mux.OnClose = s.onClose

	return s
}

func (s *Server) onAccept(c *rdp.Connection) {
	fmt.Fprintf(s.out, "CONNECTED %d %d\n", c.ClientID, c.ServerID)

	ti := storage.NewTransferItem(c.ClientID, c.Addr.String(), s.src.Path)
	ti.Chunks = s.src.Chunks()
	s.transfers[c.ClientID] = &ti
}

func (s *Server) onReject(re *rdp.RejectedError) {
	log.WithFields(log.Fields{
		"client": re.ClientID,
		"reason": re.Reason,
	}).Info("Refused client")

	ti := storage.NewTransferItem(re.ClientID, "", s.src.Path)
	ti.Finish(re)
	s.push(ti)
}

func (s *Server) onClose(c *rdp.Connection, err error) {
	fmt.Fprintf(s.out, "DISCONNECTED %d %d\n", c.ClientID, 0)

	ti, ok := s.transfers[c.ClientID]
	if !ok {
		return
	}
	delete(s.transfers, c.ClientID)

	if err == nil {
		ti.Bytes = int64(s.src.Size())
		ti.Checksum = s.src.Checksum()
	}
	ti.Retransmissions = c.Retransmissions
	ti.Finish(err)

	s.push(*ti)
}

func (s *Server) push(ti storage.TransferItem) {
	if s.store == nil {
		return
	}

	if err := s.store.Push(ti); err != nil {
		log.WithError(err).WithField("transfer", ti).Warn("Failed to store transfer")
	}
}

// Run until all clients were served, see rdp.Multiplexer.Run.
func (s *Server) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"endpoint": s.ep,
		"file":     s.src.Path,
	}).Info("Serving file")

	return s.mux.Run(ctx)
}

// Snapshot of the current progress.
func (s *Server) Snapshot() rdp.Snapshot {
	return s.mux.Snapshot()
}

// Close the FileSource and the Endpoint.
func (s *Server) Close() (errs error) {
	if err := s.src.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.ep.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return
}
