// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fsp

import (
	"errors"
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rdp-go/pkg/rdp"
)

// Result of a finished Fetch.
type Result struct {
	Path       string
	Connection *rdp.Connection
	Stats      rdp.ReceiveStats
	Checksum   uint16
}

func (r Result) String() string {
	return fmt.Sprintf("%s (%d bytes, %d duplicates, checksum %04x)",
		r.Path, r.Stats.Bytes, r.Stats.Duplicates, r.Checksum)
}

// Dial connects to a server. A timeout is retried up to attempts times with
// the same connection ID, other errors are returned immediately.
//
// If a retry is refused for a duplicate ID, the server admitted an earlier
// CONNECT whose ACCEPT got lost. This Connection is adopted.
func Dial(ep *rdp.Endpoint, server net.Addr, attempts int) (c *rdp.Connection, err error) {
	id := rdp.NewConnectionID()

	for i := 0; i < attempts; i++ {
		c, err = ep.ConnectWithID(server, id)

		var re *rdp.RejectedError
		if i > 0 && errors.As(err, &re) && re.Reason == rdp.RejectDuplicateID {
			return ep.Adopt(server, id), nil
		}
		if !errors.Is(err, rdp.ErrTimeout) {
			return
		}

		log.WithFields(log.Fields{
			"server":  server,
			"client":  id,
			"attempt": i + 1,
		}).Info("No response from server, trying again")
	}
	return
}

// Fetch receives a file over an established Connection and stores it in dir.
func Fetch(ep *rdp.Endpoint, c *rdp.Connection, dir string, compress bool) (res Result, err error) {
	sink, err := CreateSink(dir, compress)
	if err != nil {
		err = &rdp.FatalError{Op: "create file", Err: err}
		return
	}

	res.Path = sink.Path
	res.Connection = c

	res.Stats, err = ep.ReceiveStream(c, sink)
	if closeErr := sink.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr).ErrorOrNil()
	}
	res.Checksum = sink.Checksum()

	log.WithFields(log.Fields{
		"connection": c,
		"file":       res.Path,
		"bytes":      res.Stats.Bytes,
		"duplicates": res.Stats.Duplicates,
		"checksum":   fmt.Sprintf("%04x", res.Checksum),
	}).Info("Fetch finished")

	return
}
