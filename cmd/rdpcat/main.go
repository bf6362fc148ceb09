// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rdp-go/pkg/discovery"
	"github.com/dtn7/rdp-go/pkg/fsp"
	"github.com/dtn7/rdp-go/pkg/lossy"
	"github.com/dtn7/rdp-go/pkg/rdp"
)

const (
	dialAttempts     = 10
	discoveryTimeout = 5 * time.Second
)

// clientConf is the parsed command line.
type clientConf struct {
	server   string
	discover bool
	loss     float64
	compress bool
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <server ip> <port> <loss> [xz]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s discover <loss> [xz]\n", os.Args[0])
	os.Exit(1)
}

func parseArgs(args []string) (conf clientConf, err error) {
	var lossArg string
	var rest []string

	switch {
	case len(args) >= 2 && args[0] == "discover":
		conf.discover = true
		lossArg, rest = args[1], args[2:]

	case len(args) >= 3:
		if _, portErr := strconv.ParseUint(args[1], 10, 16); portErr != nil {
			err = fmt.Errorf("invalid port %q", args[1])
			return
		}
		conf.server = net.JoinHostPort(args[0], args[1])
		lossArg, rest = args[2], args[3:]

	default:
		err = fmt.Errorf("not enough arguments")
		return
	}

	if conf.loss, err = strconv.ParseFloat(lossArg, 64); err != nil {
		err = fmt.Errorf("invalid loss probability %q", lossArg)
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "xz":
		conf.compress = true
	case len(rest) != 0:
		err = fmt.Errorf("unexpected arguments %v", rest)
	}
	return
}

// discoverServer picks the first announced server.
func discoverServer() (string, error) {
	servers, err := discovery.Discover(discoveryTimeout, false)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", fmt.Errorf("no server announced itself within %v", discoveryTimeout)
	}

	for _, s := range servers {
		log.WithField("server", s).Info("Discovered server")
	}
	return servers[0].Address, nil
}

func main() {
	conf, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
	}

	if conf.discover {
		if conf.server, err = discoverServer(); err != nil {
			log.WithError(err).Fatal("Discovery failed")
		}
	}

	serverAddr, err := net.ResolveUDPAddr("udp", conf.server)
	if err != nil {
		log.WithError(err).WithField("server", conf.server).Fatal("Cannot resolve server address")
	}

	conn, err := lossy.ListenUDP(":0", conf.loss)
	if err != nil {
		log.WithError(err).Fatal("Cannot open UDP socket")
	}

	ep, err := rdp.NewEndpoint(conn, rdp.DefaultConfig())
	if err != nil {
		_ = conn.Close()
		log.WithError(err).Fatal("Cannot create endpoint")
	}
	defer ep.Close()

	c, err := fsp.Dial(ep, serverAddr, dialAttempts)
	if err != nil {
		var re *rdp.RejectedError
		if errors.As(err, &re) {
			fmt.Printf("NOT CONNECTED %d %d\n", re.ClientID, rdp.ServerID)
			fmt.Printf("Rejected: %v\n", re.Reason)
		}
		_ = ep.Close()
		log.WithError(err).Fatal("Connecting failed")
	}
	fmt.Printf("CONNECTED %d %d\n", c.ClientID, c.ServerID)

	res, err := fsp.Fetch(ep, c, ".", conf.compress)
	fmt.Printf("DISCONNECTED %d %d\n", c.ClientID, c.ServerID)
	if err != nil {
		_ = ep.Close()
		log.WithError(err).WithField("file", res.Path).Fatal("Transfer failed")
	}

	sent, dropped := conn.Stats()
	log.WithFields(log.Fields{
		"sent":    sent,
		"dropped": dropped,
	}).Debug("Network statistics")

	fmt.Println(res.Path)
}
