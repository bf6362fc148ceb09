// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/profile"

	"github.com/dtn7/rdp-go/pkg/discovery"
	"github.com/dtn7/rdp-go/pkg/fsp"
	"github.com/dtn7/rdp-go/pkg/lossy"
	"github.com/dtn7/rdp-go/pkg/rdp"
	"github.com/dtn7/rdp-go/pkg/status"
	"github.com/dtn7/rdp-go/pkg/storage"
)

// waitSigint cancels the context when a SIGINT appears.
func waitSigint(cancel context.CancelFunc) {
	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		log.Info("Received SIGINT, stopping after the current iteration")
		cancel()
	}()
}

func parse(args []string) (daemonConf, error) {
	if len(args) == 1 && strings.HasSuffix(args[0], ".toml") {
		return parseConfig(args[0])
	}
	return parseArgs(args)
}

func main() {
	os.Exit(run())
}

// run returns the process' exit code after all deferred cleanups.
func run() int {
	if len(os.Args) != 2 && len(os.Args) != 5 {
		log.Errorf("Usage: %s configuration.toml | %s <port> <filename> <clients> <loss>", os.Args[0], os.Args[0])
		return 1
	}

	conf, err := parse(os.Args[1:])
	if err != nil {
		log.WithError(err).Error("Failed to parse config")
		return 1
	}

	if conf.profiling {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	if err := serve(conf); err != nil {
		log.WithError(err).Error("Server failed")
		return 1
	}
	return 0
}

// serve runs a server until all clients were served or the process is interrupted.
func serve(conf daemonConf) error {
	conn, err := lossy.ListenUDP(conf.listen, conf.loss)
	if err != nil {
		return &rdp.FatalError{Op: "bind", Err: err}
	}

	ep, err := rdp.NewEndpoint(conn, conf.rdpConf)
	if err != nil {
		_ = conn.Close()
		return err
	}

	src, err := fsp.NewFileSource(conf.file)
	if err != nil {
		_ = ep.Close()
		return &rdp.FatalError{Op: "open file", Err: err}
	}
	if err := src.Watch(); err != nil {
		log.WithError(err).WithField("file", conf.file).Warn("Cannot watch served file for changes")
	}

	var store *storage.Store
	if conf.storeDir != "" {
		if store, err = storage.NewStore(conf.storeDir); err != nil {
			_ = src.Close()
			_ = ep.Close()
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("Closing the transfer store errored")
			}
		}()
	}

	server := fsp.NewServer(ep, src, conf.clients, store, os.Stdout)
	defer func() {
		if err := server.Close(); err != nil {
			log.WithError(err).Warn("Closing the server errored")
		}

		sent, dropped := conn.Stats()
		log.WithFields(log.Fields{
			"sent":    sent,
			"dropped": dropped,
		}).Info("Network statistics")
	}()

	if conf.statusListen != "" {
		var history status.History
		if store != nil {
			history = store
		}

		httpSrv := &http.Server{
			Addr:    conf.statusListen,
			Handler: status.NewHandler(server, history),
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).WithField("listen", conf.statusListen).Warn("Status endpoint failed")
			}
		}()
		defer httpSrv.Close()
	}

	if conf.discovery.IPv4 || conf.discovery.IPv6 {
		var port uint
		if udpAddr, ok := ep.LocalAddr().(*net.UDPAddr); ok {
			port = uint(udpAddr.Port)
		}

		announcement := discovery.NewAnnouncement(port, filepath.Base(conf.file), uint(src.Chunks()))
		interval := time.Duration(conf.discovery.Interval) * time.Second
		if announcer, err := discovery.NewAnnouncer(announcement, interval, conf.discovery.IPv4, conf.discovery.IPv6); err != nil {
			log.WithError(err).Warn("Failed to start Announcer")
		} else {
			defer announcer.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waitSigint(cancel)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if modified := src.Modifications(); modified > 0 {
		log.WithField("events", modified).Warn("Served file changed on disk during the transfer")
	}
	return nil
}
