// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package status exposes a server's progress as a read-only JSON API.
package status

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/dtn7/rdp-go/pkg/rdp"
	"github.com/dtn7/rdp-go/pkg/storage"
)

// Snapshotter is implemented by the rdp.Multiplexer and the fsp.Server.
type Snapshotter interface {
	Snapshot() rdp.Snapshot
}

// History provides finished transfers, e.g., a storage.Store.
type History interface {
	QueryAll() ([]storage.TransferItem, error)
}

// Handler serves the JSON API:
//
//	GET /status       rdp.Snapshot without connections
//	GET /connections  active connections
//	GET /transfers    stored transfers, if a History is present
type Handler struct {
	router  *mux.Router
	snap    Snapshotter
	history History
}

// NewHandler for a Snapshotter. The History might be nil.
func NewHandler(snap Snapshotter, history History) (h *Handler) {
	h = &Handler{
		router:  mux.NewRouter(),
		snap:    snap,
		history: history,
	}

	h.router.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	h.router.HandleFunc("/connections", h.handleConnections).Methods(http.MethodGet)
	h.router.HandleFunc("/transfers", h.handleTransfers).Methods(http.MethodGet)

	return h
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write status response")
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s := h.snap.Snapshot()
	s.Connections = nil
	h.writeJson(w, s)
}

func (h *Handler) handleConnections(w http.ResponseWriter, _ *http.Request) {
	conns := h.snap.Snapshot().Connections
	if conns == nil {
		conns = []rdp.ConnectionInfo{}
	}
	h.writeJson(w, conns)
}

func (h *Handler) handleTransfers(w http.ResponseWriter, _ *http.Request) {
	if h.history == nil {
		http.Error(w, "no transfer store configured", http.StatusNotFound)
		return
	}

	tis, err := h.history.QueryAll()
	if err != nil {
		log.WithError(err).Warn("Failed to query transfers")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tis == nil {
		tis = []storage.TransferItem{}
	}
	h.writeJson(w, tis)
}
