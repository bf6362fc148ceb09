// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"
)

// Announcer periodically publishes an Announcement.
type Announcer struct {
	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewAnnouncer creates and starts an Announcer.
func NewAnnouncer(announcement Announcement, interval time.Duration, ipv4, ipv6 bool) (*Announcer, error) {
	var announcer = &Announcer{}
	if ipv4 {
		announcer.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		announcer.stopChan6 = make(chan struct{})
	}

	log.WithFields(log.Fields{
		"interval":     interval,
		"IPv4":         ipv4,
		"IPv6":         ipv6,
		"announcement": announcement,
	}).Info("Starting Announcer")

	msg, err := MarshalAnnouncement(announcement)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
	}{
		{ipv4, address4, announcer.stopChan4, peerdiscovery.IPv4},
		{ipv6, address6, announcer.stopChan6, peerdiscovery.IPv6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		set := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            interval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
		}

		discoverErrChan := make(chan error)
		go func() {
			_, discoverErr := peerdiscovery.Discover(set)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
			break
		}
	}

	return announcer, nil
}

// Close stops the Announcer.
func (announcer *Announcer) Close() {
	for _, c := range []chan struct{}{announcer.stopChan4, announcer.stopChan6} {
		if c != nil {
			close(c)
		}
	}
}

// Server is a discovered NewFSP server.
type Server struct {
	Address      string
	Announcement Announcement
}

func (s Server) String() string {
	return fmt.Sprintf("%s (%s, %d chunks)", s.Address, s.Announcement.File, s.Announcement.Chunks)
}

// serverFromDiscovered checks a discovered peer's payload.
func serverFromDiscovered(discovered peerdiscovery.Discovered) (s Server, err error) {
	if s.Announcement, err = UnmarshalAnnouncement(discovered.Payload); err != nil {
		return
	}

	s.Address = net.JoinHostPort(discovered.Address, fmt.Sprintf("%d", s.Announcement.Port))
	return
}

// Discover listens for Announcements for the given time.
func Discover(timeout time.Duration, ipv6 bool) (servers []Server, err error) {
	set := peerdiscovery.Settings{
		Limit:            -1,
		Port:             fmt.Sprintf("%d", port),
		MulticastAddress: address4,
		Payload:          []byte{},
		Delay:            timeout / 4,
		TimeLimit:        timeout,
		IPVersion:        peerdiscovery.IPv4,
	}
	if ipv6 {
		set.MulticastAddress = address6
		set.IPVersion = peerdiscovery.IPv6
	}

	discovered, err := peerdiscovery.Discover(set)
	if err != nil {
		return
	}

	var known = make(map[string]bool)
	for _, d := range discovered {
		s, parseErr := serverFromDiscovered(d)
		if parseErr != nil {
			log.WithError(parseErr).WithField("peer", d.Address).Debug("Ignoring unknown announcement")
			continue
		}

		if !known[s.Address] {
			known[s.Address] = true
			servers = append(servers, s)
		}
	}

	return
}
